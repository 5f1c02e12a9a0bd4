package command

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/seqmesh-go/internal/cli/connection"
	"github.com/yndnr/seqmesh-go/internal/cli/output"
	"github.com/yndnr/seqmesh-go/internal/server/clusterserver"
	"github.com/yndnr/seqmesh-go/internal/server/httpserver/handler"
)

// Admin API paths.
const (
	pathReady   = "/readyz"
	pathStatus  = "/admin/v1/status"
	pathCluster = "/admin/v1/cluster"
	pathGC      = "/admin/v1/gc"
	pathBackup  = "/admin/v1/backup"
)

// PingResult is the output of system ping.
type PingResult struct {
	Server string        `json:"server" yaml:"server"`
	RTT    time.Duration `json:"rtt_ns" yaml:"rtt"`
}

// StatusView flattens the admin status response for display.
type StatusView struct {
	Version   string    `json:"version" yaml:"version"`
	Commit    string    `json:"commit" yaml:"commit" table:"wide"`
	Driver    string    `json:"driver" yaml:"driver"`
	Started   time.Time `json:"started" yaml:"started"`
	Uptime    string    `json:"uptime" yaml:"uptime"`
	DiskUsage string    `json:"disk_usage,omitempty" yaml:"disk_usage,omitempty"`
	GCRuns    uint64    `json:"gc_runs,omitempty" yaml:"gc_runs,omitempty" table:"wide"`
}

// MemberView is one row of system cluster.
type MemberView struct {
	NodeID    string `json:"node_id" yaml:"node_id"`
	RaftAddr  string `json:"raft_addr" yaml:"raft_addr"`
	ServeAddr string `json:"serve_addr" yaml:"serve_addr"`
	Leader    bool   `json:"leader" yaml:"leader"`
}

// SystemCommand returns the system subcommand group.
func SystemCommand() *cli.Command {
	return &cli.Command{
		Name:    "system",
		Aliases: []string{"sys"},
		Usage:   "Server health and maintenance",
		Subcommands: []*cli.Command{
			{
				Name:   "ping",
				Usage:  "Round-trip a PING over RESP",
				Action: systemPing,
			},
			{
				Name:   "ready",
				Usage:  "Check server readiness through the admin API",
				Action: systemReady,
			},
			{
				Name:   "status",
				Usage:  "Show build, driver and storage status",
				Action: systemStatus,
			},
			{
				Name:   "cluster",
				Usage:  "Show Raft cluster members (raft driver only)",
				Action: systemCluster,
			},
			{
				Name:   "gc",
				Usage:  "Run value log garbage collection (badger driver only)",
				Action: systemGC,
			},
		},
	}
}

func adminClient(c *cli.Context) (*GlobalFlags, *connection.AdminClient, error) {
	flags, err := ParseGlobalFlags(c)
	if err != nil {
		return nil, nil, err
	}
	client, err := connection.NewAdminClient(flags.Conn)
	if err != nil {
		return nil, nil, err
	}
	return flags, client, nil
}

func systemPing(c *cli.Context) error {
	flags, err := ParseGlobalFlags(c)
	if err != nil {
		return err
	}
	backend, err := connection.Dial(flags.Conn)
	if err != nil {
		return err
	}
	defer backend.Close()

	ctx, cancel := commandContext(c, flags.Conn.Timeout)
	defer cancel()

	rtt, err := backend.Ping(ctx)
	if err != nil {
		return err
	}
	if flags.Output == output.FormatTable {
		fmt.Fprintf(c.App.Writer, "PONG from %s in %s\n", backend.Addr(), rtt.Round(time.Microsecond))
		return nil
	}
	return render(c, flags, PingResult{Server: backend.Addr(), RTT: rtt})
}

func systemReady(c *cli.Context) error {
	flags, client, err := adminClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(c, flags.Conn.Timeout)
	defer cancel()

	var result map[string]string
	if err := client.Get(ctx, pathReady, &result); err != nil {
		return err
	}
	return render(c, flags, result)
}

func systemStatus(c *cli.Context) error {
	flags, client, err := adminClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(c, flags.Conn.Timeout)
	defer cancel()

	var resp handler.StatusResponse
	if err := client.Get(ctx, pathStatus, &resp); err != nil {
		return err
	}

	view := StatusView{
		Version: resp.Build.Version,
		Commit:  resp.Build.Commit,
		Driver:  resp.Driver,
		Started: resp.Started,
		Uptime:  resp.Uptime,
	}
	if resp.Storage != nil {
		view.DiskUsage = output.FormatBytes(int64(resp.Storage.TotalSize))
		view.GCRuns = resp.Storage.GCRuns
	}
	return render(c, flags, view)
}

func systemCluster(c *cli.Context) error {
	flags, client, err := adminClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(c, flags.Conn.Timeout)
	defer cancel()

	var status clusterserver.Status
	if err := client.Get(ctx, pathCluster, &status); err != nil {
		return err
	}

	members := make([]MemberView, 0, len(status.Members))
	for _, m := range status.Members {
		members = append(members, MemberView{
			NodeID:    m.NodeID,
			RaftAddr:  m.RaftAddr,
			ServeAddr: m.ServeAddr,
			Leader:    m.NodeID == status.LeaderID,
		})
	}

	if flags.Output == output.FormatTable {
		fmt.Fprintf(c.App.Writer, "Node %s is %s; leader %s (%s)\n\n",
			status.NodeID, status.State, status.LeaderID, status.Leader)
	}
	return render(c, flags, members)
}

func systemGC(c *cli.Context) error {
	flags, client, err := adminClient(c)
	if err != nil {
		return err
	}
	// GC can outlast the per-call timeout, so only the app context bounds it.
	ctx, cancel := commandContext(c, 0)
	defer cancel()

	spin := output.NewSpinner(os.Stderr, "running value log gc")
	spin.Start()

	var result handler.GCResponse
	if err := client.Post(ctx, pathGC, &result); err != nil {
		spin.Fail("gc failed")
		return err
	}
	spin.Success(fmt.Sprintf("gc rewrote %d file(s) in %s", result.FilesRewritten, result.Duration))

	if flags.Output == output.FormatTable {
		return nil
	}
	return render(c, flags, result)
}
