// Package cli implements the schedulectl commands on top of session.Client.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/AlibekovAA/class-schedule/internal/client/session"
	"github.com/AlibekovAA/class-schedule/internal/schedule/domain"
)

// API is the part of session.Client the commands use.
type API interface {
	Login(ctx context.Context, email, password string) error
	Register(ctx context.Context, email, password string, isAdmin bool) error
	Logout(ctx context.Context) error
	LogoutEverywhere(ctx context.Context) error
	ListSchedules(ctx context.Context, q session.ScheduleQuery) ([]domain.Schedule, error)
	GroupedSchedules(ctx context.Context) ([]domain.TimeSlot, error)
	GetSchedule(ctx context.Context, id int64) (domain.Schedule, error)
	CreateSchedule(ctx context.Context, fields session.ScheduleFields) (domain.Schedule, error)
	UpdateSchedule(ctx context.Context, id int64, changes session.ScheduleChanges) (domain.Schedule, error)
	DeleteSchedule(ctx context.Context, id int64) error
	WatchSchedules(ctx context.Context, fn func(domain.Event)) error
}

var ErrUnknownCommand = errors.New("unknown command")

type command struct {
	usage string
	run   func(a *App, ctx context.Context, args []string) error
}

func commandTable() map[string]command {
	return map[string]command{
		"login":      {"login [-email EMAIL]", (*App).login},
		"register":   {"register [-email EMAIL] [-admin]", (*App).register},
		"logout":     {"logout", (*App).logout},
		"logout-all": {"logout-all", (*App).logoutAll},
		"list":       {"list [-group G] [-teacher T] [-date YYYY-MM-DD | -from RFC3339 -to RFC3339] [-grouped]", (*App).list},
		"get":        {"get ID", (*App).get},
		"create":     {"create -group G -teacher T -subject S -room R -start RFC3339 -end RFC3339", (*App).create},
		"update":     {"update ID [-group G] [-teacher T] [-subject S] [-room R] [-start RFC3339] [-end RFC3339]", (*App).update},
		"delete":     {"delete ID", (*App).delete},
		"watch":      {"watch", (*App).watch},
	}
}

type App struct {
	api API
	in  *bufio.Reader
	out io.Writer
}

func NewApp(api API, in io.Reader, out io.Writer) *App {
	return &App{api: api, in: bufio.NewReader(in), out: out}
}

// Run executes one command. args excludes the program name.
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		a.usage()
		return nil
	}

	cmd, ok := commandTable()[args[0]]
	if !ok {
		a.usage()
		return fmt.Errorf("%w: %s", ErrUnknownCommand, args[0])
	}
	return cmd.run(a, ctx, args[1:])
}

func (a *App) usage() {
	commands := commandTable()
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("usage: schedulectl <command> [flags]\n\ncommands:\n")
	for _, name := range names {
		fmt.Fprintf(&b, "  %s\n", commands[name].usage)
	}
	fmt.Fprint(a.out, b.String())
}
