package command

import (
	"fmt"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/seqmesh-go/internal/cli/connection"
	"github.com/yndnr/seqmesh-go/internal/cli/output"
	"github.com/yndnr/seqmesh-go/internal/core/domain"
	"github.com/yndnr/seqmesh-go/internal/core/seqstore"
	"github.com/yndnr/seqmesh-go/internal/telemetry/logger"
)

// SessionState is the rendered state of one session store.
type SessionState struct {
	Session      string    `json:"session" yaml:"session"`
	NextSender   int       `json:"next_sender" yaml:"next_sender"`
	NextTarget   int       `json:"next_target" yaml:"next_target"`
	CreationTime time.Time `json:"creation_time" yaml:"creation_time"`
	Namespace    string    `json:"namespace" yaml:"namespace" table:"wide"`
}

// SessionCommand returns the session subcommand group.
func SessionCommand() *cli.Command {
	return &cli.Command{
		Name:    "session",
		Aliases: []string{"sess"},
		Usage:   "Inspect and repair a FIX session store",
		Subcommands: []*cli.Command{
			{
				Name:      "show",
				Usage:     "Show sequence numbers and creation time",
				ArgsUsage: "SESSION_ID",
				Action:    sessionShow,
			},
			{
				Name:      "messages",
				Aliases:   []string{"msgs"},
				Usage:     "List stored messages in a sequence range",
				ArgsUsage: "SESSION_ID",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "from",
						Value: 1,
						Usage: "First sequence number",
					},
					&cli.IntFlag{
						Name:  "to",
						Usage: "Last sequence number (default: next sender - 1)",
					},
				},
				Action: sessionMessages,
			},
			{
				Name:      "put",
				Usage:     "Store a message under a sequence number",
				ArgsUsage: "SESSION_ID SEQ MESSAGE",
				Action:    sessionPut,
			},
			{
				Name:      "set-next",
				Usage:     "Set the next sender and/or target sequence number",
				ArgsUsage: "SESSION_ID",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "sender",
						Usage: "Next outgoing sequence number",
					},
					&cli.IntFlag{
						Name:  "target",
						Usage: "Next expected incoming sequence number",
					},
				},
				Action: sessionSetNext,
			},
			{
				Name:      "incr",
				Usage:     "Advance the sender and/or target sequence number by one",
				ArgsUsage: "SESSION_ID",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "sender",
						Usage: "Advance the sender counter",
					},
					&cli.BoolFlag{
						Name:  "target",
						Usage: "Advance the target counter",
					},
				},
				Action: sessionIncr,
			},
			{
				Name:      "reset",
				Usage:     "Reset both counters to 1 and drop every message",
				ArgsUsage: "SESSION_ID",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "force",
						Aliases: []string{"f"},
						Usage:   "Skip confirmation",
					},
				},
				Action: sessionReset,
			},
		},
	}
}

// sessionCall is one session action with its store opened.
type sessionCall struct {
	flags *GlobalFlags
	store *seqstore.SessionStore
	close func()
}

// openSession parses SESSION_ID from the first argument and provisions its
// store on the server. Provisioning never modifies existing data.
func openSession(c *cli.Context) (*sessionCall, error) {
	raw := c.Args().First()
	if raw == "" {
		return nil, fmt.Errorf("session ID required")
	}
	sid, err := domain.ParseSessionID(raw)
	if err != nil {
		return nil, err
	}

	flags, err := ParseGlobalFlags(c)
	if err != nil {
		return nil, err
	}

	backend, err := connection.Dial(flags.Conn)
	if err != nil {
		return nil, err
	}

	factory := seqstore.NewFactory(backend, seqstore.Options{
		OpTimeout: flags.Conn.Timeout,
		Logger:    logger.Discard(),
	})

	ctx, cancel := commandContext(c, flags.Conn.Timeout)
	defer cancel()

	store, err := factory.Create(ctx, sid)
	if err != nil {
		backend.Close()
		return nil, err
	}

	return &sessionCall{
		flags: flags,
		store: store,
		close: func() { backend.Close() },
	}, nil
}

func readState(c *cli.Context, call *sessionCall) (*SessionState, error) {
	ctx, cancel := commandContext(c, call.flags.Conn.Timeout)
	defer cancel()

	s := call.store
	sender, err := s.NextSenderMsgSeqNum(ctx)
	if err != nil {
		return nil, err
	}
	target, err := s.NextTargetMsgSeqNum(ctx)
	if err != nil {
		return nil, err
	}
	created, err := s.CreationTime(ctx)
	if err != nil {
		return nil, err
	}

	sid := s.SessionID()
	return &SessionState{
		Session:      sid.String(),
		NextSender:   sender,
		NextTarget:   target,
		CreationTime: created,
		Namespace:    sid.NamespaceName(),
	}, nil
}

func sessionShow(c *cli.Context) error {
	call, err := openSession(c)
	if err != nil {
		return err
	}
	defer call.close()

	state, err := readState(c, call)
	if err != nil {
		return err
	}
	return render(c, call.flags, state)
}

func sessionMessages(c *cli.Context) error {
	call, err := openSession(c)
	if err != nil {
		return err
	}
	defer call.close()

	ctx, cancel := commandContext(c, call.flags.Conn.Timeout)
	defer cancel()

	from, to := c.Int("from"), c.Int("to")
	if !c.IsSet("to") {
		next, err := call.store.NextSenderMsgSeqNum(ctx)
		if err != nil {
			return err
		}
		to = next - 1
	}

	messages, err := call.store.Get(ctx, from, to, nil)
	if err != nil {
		return err
	}

	if call.flags.Output != output.FormatTable {
		return render(c, call.flags, messages)
	}
	table := &output.Table{Headers: []string{"MESSAGE"}}
	for _, m := range messages {
		table.AddRow(m)
	}
	return render(c, call.flags, table)
}

func sessionPut(c *cli.Context) error {
	if c.NArg() != 3 {
		return fmt.Errorf("usage: session put SESSION_ID SEQ MESSAGE")
	}
	seq, err := strconv.Atoi(c.Args().Get(1))
	if err != nil {
		return domain.ErrInvalidArgument.WithDetailsf("sequence number %q", c.Args().Get(1))
	}

	call, err := openSession(c)
	if err != nil {
		return err
	}
	defer call.close()

	ctx, cancel := commandContext(c, call.flags.Conn.Timeout)
	defer cancel()

	inserted, err := call.store.Set(ctx, seq, c.Args().Get(2))
	if err != nil {
		return err
	}
	verb := "replaced"
	if inserted {
		verb = "stored"
	}
	fmt.Fprintf(c.App.Writer, "Message %d %s.\n", seq, verb)
	return nil
}

func sessionSetNext(c *cli.Context) error {
	if !c.IsSet("sender") && !c.IsSet("target") {
		return fmt.Errorf("at least one of --sender or --target is required")
	}

	call, err := openSession(c)
	if err != nil {
		return err
	}
	defer call.close()

	ctx, cancel := commandContext(c, call.flags.Conn.Timeout)
	defer cancel()

	if c.IsSet("sender") {
		if err := call.store.SetNextSenderMsgSeqNum(ctx, c.Int("sender")); err != nil {
			return err
		}
	}
	if c.IsSet("target") {
		if err := call.store.SetNextTargetMsgSeqNum(ctx, c.Int("target")); err != nil {
			return err
		}
	}

	state, err := readState(c, call)
	if err != nil {
		return err
	}
	return render(c, call.flags, state)
}

func sessionIncr(c *cli.Context) error {
	sender, target := c.Bool("sender"), c.Bool("target")
	if !sender && !target {
		return fmt.Errorf("at least one of --sender or --target is required")
	}

	call, err := openSession(c)
	if err != nil {
		return err
	}
	defer call.close()

	ctx, cancel := commandContext(c, call.flags.Conn.Timeout)
	defer cancel()

	if sender {
		if err := call.store.IncrNextSenderMsgSeqNum(ctx); err != nil {
			return err
		}
	}
	if target {
		if err := call.store.IncrNextTargetMsgSeqNum(ctx); err != nil {
			return err
		}
	}

	state, err := readState(c, call)
	if err != nil {
		return err
	}
	return render(c, call.flags, state)
}

func sessionReset(c *cli.Context) error {
	raw := c.Args().First()
	if raw == "" {
		return fmt.Errorf("session ID required")
	}
	if !confirm(c, fmt.Sprintf("Reset session %s? Every stored message is dropped.", raw)) {
		fmt.Fprintln(c.App.Writer, "Cancelled.")
		return nil
	}

	call, err := openSession(c)
	if err != nil {
		return err
	}
	defer call.close()

	ctx, cancel := commandContext(c, call.flags.Conn.Timeout)
	defer cancel()

	if err := call.store.Reset(ctx); err != nil {
		return err
	}

	state, err := readState(c, call)
	if err != nil {
		return err
	}
	return render(c, call.flags, state)
}
