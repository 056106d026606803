package config

import "tools.zach/dev/tallybot/internal/migrate"

// Migrations upgrades config.toml files written by older releases.
var Migrations = &migrate.Registry{CurrentVersion: 2}

func init() {
	Migrations.Register(migrate.Migration{
		Version:     2,
		Description: "move prefix into [commands]",
		Upgrade: func(doc migrate.Document) error {
			if _, ok := doc["prefix"]; !ok {
				return nil
			}
			commands, err := migrate.Table(doc, "commands")
			if err != nil {
				return err
			}
			migrate.Move(doc, "prefix", commands, "prefix")
			return nil
		},
	})
}
