package bot

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"tools.zach/dev/tallybot/internal/calc"
	"tools.zach/dev/tallybot/internal/worklog"
)

// maxSubjectLen caps the subject stored for a session.
const maxSubjectLen = 100

func (b *Bot) registry() map[string]command {
	return map[string]command{
		"op": {
			run:   b.op,
			usage: "op>expression[,var=value]",
			help:  "evaluate an arithmetic expression, e.g. op>1+x*3,x=5",
		},
		"start": {
			run:   b.start,
			usage: "start>[subject]",
			help:  "start a work session, optionally tagged with a subject",
		},
		"stop": {
			run:   b.stop,
			usage: "stop>",
			help:  "finish your running session",
		},
		"subjects": {
			run:   b.subjects,
			usage: "subjects>",
			help:  "list the subjects you have tracked",
		},
		"last": {
			run:   b.last,
			usage: "last>",
			help:  "show your most recently finished session",
		},
		"remove": {
			run:   b.remove,
			usage: "remove>session-id",
			help:  "delete one of your sessions",
		},
		"amend": {
			run:   b.amend,
			usage: "amend>duration",
			help:  "correct the length of your last session, e.g. amend>1h30m",
		},
		"help": {
			run:   b.help,
			usage: "help>",
			help:  "show this message",
		},
	}
}

// ///////////////////////////////////////////////
// Calculator
// ///////////////////////////////////////////////

func (b *Bot) op(_ context.Context, _ Message, args string) (string, error) {
	return calc.Reply(args), nil
}

// ///////////////////////////////////////////////
// Sessions
// ///////////////////////////////////////////////

func (b *Bot) start(ctx context.Context, m Message, args string) (string, error) {
	open, err := b.sessions.OpenSession(ctx, m.AuthorID, m.Discriminator)
	if err != nil {
		return "", err
	}
	if open != nil {
		return fmt.Sprintf("You already have a session running since %s. Finish it with `stop>` first ⏳",
			open.StartTime.UTC().Format(time.RFC1123)), nil
	}

	subject := args
	if r := []rune(subject); len(r) > maxSubjectLen {
		subject = string(r[:maxSubjectLen])
	}
	sess, err := b.sessions.SaveNewSession(ctx, worklog.NewSession{
		DiscordID:     m.AuthorID,
		Username:      m.Username,
		Discriminator: m.Discriminator,
		StartTime:     b.now(),
		Subject:       subject,
	})
	if err != nil {
		return "", err
	}
	if sess.Subject != "" {
		return fmt.Sprintf("Session started on **%s**, good luck! 📚", sess.Subject), nil
	}
	return "Session started, good luck! 📚", nil
}

func (b *Bot) stop(ctx context.Context, m Message, _ string) (string, error) {
	fin, err := b.sessions.FinishSession(ctx, worklog.FinishRequest{
		DiscordID:     m.AuthorID,
		Discriminator: m.Discriminator,
		EndTime:       b.now(),
	})
	if err != nil {
		return "", err
	}
	if fin == nil {
		return "You have no session running 🤷", nil
	}
	if fin.Subject != "" {
		return fmt.Sprintf("Session on **%s** finished after %s 🎉", fin.Subject, fin.Formatted), nil
	}
	return fmt.Sprintf("Session finished after %s 🎉", fin.Formatted), nil
}

func (b *Bot) subjects(ctx context.Context, m Message, _ string) (string, error) {
	subjects, err := b.sessions.GetUserSubjects(ctx, m.AuthorID)
	if err != nil {
		return "", err
	}
	if len(subjects) == 0 {
		return "You have not tagged any session with a subject yet", nil
	}
	return "Your subjects: " + strings.Join(subjects, ", "), nil
}

func (b *Bot) last(ctx context.Context, m Message, _ string) (string, error) {
	sess, err := b.sessions.GetLatestSession(ctx, m.AuthorID)
	if err != nil {
		return "", err
	}
	if sess == nil {
		return "You have no finished sessions yet", nil
	}
	return describe(sess), nil
}

func (b *Bot) remove(ctx context.Context, m Message, args string) (string, error) {
	if args == "" {
		return "Tell me which session to remove, e.g. `remove>session-id`", nil
	}
	err := b.sessions.RemoveSessionWithUserID(ctx, args, m.AuthorID)
	if errors.Is(err, worklog.ErrRemoveDenied) {
		return "That session does not exist or is not yours 🚫", nil
	}
	if err != nil {
		return "", err
	}
	return "Session removed 🗑️", nil
}

func (b *Bot) amend(ctx context.Context, m Message, args string) (string, error) {
	d, err := time.ParseDuration(strings.ReplaceAll(args, " ", ""))
	if err != nil || d <= 0 {
		return "Give me a positive duration, e.g. `amend>1h30m`", nil
	}

	sess, err := b.sessions.GetLatestSession(ctx, m.AuthorID)
	if err != nil {
		return "", err
	}
	if sess == nil {
		return "You have no finished sessions to amend", nil
	}

	end := sess.StartTime.Add(d)
	err = b.sessions.UpdateSessionEndTime(ctx, sess.ID, end, d)
	if errors.Is(err, worklog.ErrSessionNotFound) {
		return "That session was removed in the meantime", nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Last session now lasts %s ✏️", worklog.FormatDuration(d)), nil
}

// describe renders a finished session for chat.
func describe(s *worklog.Session) string {
	var sb strings.Builder
	sb.WriteString("Your last session")
	if s.Subject != "" {
		fmt.Fprintf(&sb, " on **%s**", s.Subject)
	}
	fmt.Fprintf(&sb, " lasted %s", worklog.FormatDuration(s.Elapsed()))
	if s.EndTime != nil {
		fmt.Fprintf(&sb, " and ended %s", s.EndTime.UTC().Format(time.RFC1123))
	}
	fmt.Fprintf(&sb, " (id `%s`)", s.ID)
	return sb.String()
}

// ///////////////////////////////////////////////
// Help
// ///////////////////////////////////////////////

func (b *Bot) help(_ context.Context, _ Message, _ string) (string, error) {
	cmds, _ := b.settings()

	names := make([]string, 0, len(b.handlers))
	for name := range b.handlers {
		names = append(names, name)
	}
	slices.Sort(names)

	var sb strings.Builder
	sb.WriteString("Commands:\n")
	for _, name := range names {
		c := b.handlers[name]
		fmt.Fprintf(&sb, "`%s%s` %s\n", cmds.Prefix, c.usage, c.help)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
