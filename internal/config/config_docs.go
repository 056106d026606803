package config

// ///////////////////////////////////////////////
// Documentation Types
// ///////////////////////////////////////////////

// FieldDoc holds documentation and alternative examples for a single config field.
// The genconfig tool uses [FieldDoc] values to annotate the generated config.default.toml.
type FieldDoc struct {
	// Comment is shown as a header comment above the field in the example config.
	Comment string

	// Alternatives are shown as commented-out lines below the active value.
	Alternatives []string
}

// ///////////////////////////////////////////////
// Field Documentation Map
// ///////////////////////////////////////////////

// ConfigDocs maps TOML field paths (dot-separated, e.g. "store.backend")
// to their [FieldDoc] entries.
var ConfigDocs = map[string]FieldDoc{
	// ── Root ──────────────────────────────────────────────────────
	"version": {
		Comment: "Config schema version, do not edit.",
	},

	// ── Discord ──────────────────────────────────────────────────
	"discord.status": {
		Comment: "Text shown as the bot's \"Playing\" status. Leave empty for none.",
	},
	"discord.connect_attempts": {
		Comment: "Gateway connection attempts at startup before giving up.",
	},
	"discord.reconnect_interval_seconds": {
		Comment: "Seconds to wait between connection attempts.",
	},
	"discord.rest_retry_max": {
		Comment: "Retries for failed Discord REST calls (429 and 5xx responses).",
	},

	// ── Commands ─────────────────────────────────────────────────
	"commands.prefix": {
		Comment: "Every command starts with this prefix, e.g. !!op>1+1",
		Alternatives: []string{
			`prefix = "?"`,
		},
	},
	"commands.allowed_channels": {
		Comment: "Channel name globs where commands are served. Empty serves every channel.",
		Alternatives: []string{
			`allowed_channels = ["study-*", "bot-commands"]`,
		},
	},
	"commands.ignored_channels": {
		Comment: "Channel name globs that are never served. Checked before allowed_channels.",
		Alternatives: []string{
			`ignored_channels = ["announcements", "*-archive"]`,
		},
	},
	"commands.allow_direct_messages": {
		Comment: "Answer commands sent in direct messages.",
	},

	// ── Store ────────────────────────────────────────────────────
	"store.backend": {
		Comment: "Session store: \"mongo\" (needs MONGODB_URI) or \"memory\" (lost on restart).",
		Alternatives: []string{
			`backend = "memory"`,
		},
	},
	"store.database": {
		Comment: "MongoDB database name. MONGODB_DATABASE overrides it.",
	},
	"store.collection": {},
	"store.timeout_seconds": {
		Comment: "Deadline for the store calls made by a single command.",
	},
	"store.ensure_indexes": {
		Comment: "Create the session query indexes at startup.",
	},

	// ── Log ──────────────────────────────────────────────────────
	"log.level": {
		Comment: "Log level: trace, debug, info, warn, error",
	},
	"log.max_size_mb": {
		Comment: "Rotate tallybot.log after this many megabytes.",
	},
	"log.console": {
		Comment: "Also write log lines to stderr.",
	},

	// ── Update ───────────────────────────────────────────────────
	"update.check": {
		Comment: "Check for a newer release at startup.",
	},
	"update.manifest_url": {
		Comment: "Release manifest to check. Empty skips the check.",
		Alternatives: []string{
			`manifest_url = "https://example.com/tallybot/release-manifest.json"`,
		},
	},
}
