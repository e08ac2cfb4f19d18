package main

import (
	"crypto/rand"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/alvarosanz/loadit/internal/clog"
	"github.com/alvarosanz/loadit/internal/cluster"
	"github.com/alvarosanz/loadit/internal/config"
	"github.com/alvarosanz/loadit/internal/wire"
)

var (
	flagPath      string
	flagBackup    bool
	flagDebug     bool
	flagWorkers   int
	flagSessionDB string
	flagNode      string
	flagToken     string
)

var startNodeCmd = &cobra.Command{
	Use:   "start-node <central_addr>",
	Short: "Register a worker pool under a root, optionally also hosting central",
	Long: `start-node brings up a node: a pool of one worker per CPU core, each
registered with the central coordinator at <central_addr>. If nothing answers
at <central_addr> yet, this node also hosts central itself (the bootstrap
node), prompting interactively for the admin user and password used to
unlock its session store.`,
	Args: cobra.ExactArgs(1),
	RunE: runStartNode,
}

func init() {
	startNodeCmd.Flags().StringVar(&flagPath, "path", ".", "database root directory")
	startNodeCmd.Flags().BoolVar(&flagBackup, "backup", false, "advertise this node as a replication backup target")
	startNodeCmd.Flags().BoolVar(&flagDebug, "debug", false, "debug mode, recorded in the node config (does not change the log level)")
	startNodeCmd.Flags().IntVar(&flagWorkers, "workers", runtime.NumCPU(), "worker processes to register (default: one per core)")
	startNodeCmd.Flags().StringVar(&flagSessionDB, "session-dir", ".", "directory holding sessions.db when hosting central")
	startNodeCmd.Flags().StringVar(&flagNode, "node", hostnameOrDefault(), "this node's name, as advertised to central")
	startNodeCmd.Flags().StringVar(&flagToken, "token", os.Getenv("LOADIT_TOKEN"), "admin session token, required to join an existing central")
	rootCmd.AddCommand(startNodeCmd)
}

func runStartNode(cmd *cobra.Command, args []string) error {
	centralAddr := args[0]

	if !flagBackup && config.IsBackupNode(flagPath) {
		flagBackup = true
	}

	cfg, err := config.Load("", map[string]interface{}{
		"root":   flagPath,
		"backup": flagBackup,
		"debug":  flagDebug,
	})
	if err != nil {
		return err
	}
	if err := clog.Init(clog.Config{Path: "", MaxSizeMB: 64, MaxBackups: 3, MaxAgeDays: 28}); err != nil {
		return err
	}
	defer clog.Close()

	tlsConfig, err := wire.ServerTLSConfig(cfg.TLSCert, cfg.TLSKey)
	if err != nil {
		return err
	}

	var g errgroup.Group

	var central *cluster.Central
	hostingCentral := false
	if probe, err := wire.Dial(centralAddr, wire.ClientTLSConfig()); err != nil {
		hostingCentral = true
	} else {
		probe.Close()
	}

	if hostingCentral {
		central, err = bootstrapCentral(flagNode)
		if err != nil {
			return err
		}
		ln, err := wire.Listen(centralAddr, tlsConfig)
		if err != nil {
			return fmt.Errorf("listen for central on %s: %w", centralAddr, err)
		}
		g.Go(func() error { return central.Serve(ln) })
		fmt.Println(sectionStyle.Render(fmt.Sprintf("central coordinator listening on %s", centralAddr)))
	} else if flagToken == "" {
		return fmt.Errorf("joining an existing central at %s requires --token (or LOADIT_TOKEN)", centralAddr)
	}

	for i := 0; i < flagWorkers; i++ {
		worker := cluster.NewWorker(cfg.Root, cfg.MaxChunkBytes, cfg.MaxMemory)
		ln, err := wire.Listen("127.0.0.1:0", tlsConfig)
		if err != nil {
			return fmt.Errorf("listen for worker: %w", err)
		}
		addr := ln.Addr().String()

		if err := registerWorker(central, centralAddr, addr); err != nil {
			return fmt.Errorf("register worker %s: %w", addr, err)
		}
		fmt.Println(sectionStyle.Render(fmt.Sprintf("worker %d listening on %s, root %s", i, addr, cfg.Root)))
		g.Go(func() error { return worker.Serve(ln) })
	}

	return g.Wait()
}

// registerWorker advertises one worker address under flagNode, either
// in-process (this node also hosts central) or over the wire via
// add_worker (joining an already-running central).
func registerWorker(central *cluster.Central, centralAddr, workerAddr string) error {
	if central != nil {
		central.Nodes.RegisterWorker(flagNode, workerAddr)
		return nil
	}

	conn, err := wire.Dial(centralAddr, wire.ClientTLSConfig())
	if err != nil {
		return fmt.Errorf("dial central: %w", err)
	}
	defer conn.Close()

	req := cluster.Request{Op: cluster.OpAddWorker, Token: flagToken, Name: flagNode, Addr: workerAddr, Backup: flagBackup, ClientVersion: cluster.ProtocolVersion}
	if err := conn.WriteJSON(req); err != nil {
		return err
	}
	var resp cluster.Response
	if err := conn.ReadJSON(&resp); err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("%s", resp.Error)
	}
	return nil
}

func hostnameOrDefault() string {
	h, err := os.Hostname()
	if err != nil {
		return "node"
	}
	return h
}

var sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))

// bootstrapCentral builds a fresh Central: unlocks (or creates) its session
// store under an interactively-collected admin password, seeding the first
// admin session if the store was empty, and mints a per-run JWT signing key.
func bootstrapCentral(localNode string) (*cluster.Central, error) {
	user, password, err := promptAdminCredentials()
	if err != nil {
		return nil, err
	}

	sessions, err := cluster.OpenSessionStore(flagSessionDB, password)
	if err != nil {
		return nil, err
	}
	if _, ok := sessions.Get(user); !ok {
		admin := cluster.Session{User: user, IsAdmin: true, CreateAllowed: true}
		if err := sessions.Add(admin); err != nil {
			return nil, err
		}
	}

	masterKey := make([]byte, 32)
	if _, err := rand.Read(masterKey); err != nil {
		return nil, fmt.Errorf("generate master key: %w", err)
	}

	nodes := cluster.NewNodeRegistry()
	nodes.Seed(localNode, flagBackup)

	token, err := cluster.IssueToken(masterKey, cluster.Session{User: user, IsAdmin: true, CreateAllowed: true}, 24*time.Hour)
	if err != nil {
		return nil, err
	}
	fmt.Println(sectionStyle.Render("admin session token (save this, it will not be printed again):"))
	fmt.Println(token)

	return cluster.NewCentral(localNode, nodes, sessions, masterKey, 24*time.Hour), nil
}

// promptAdminCredentials collects the admin user/password either via an
// interactive huh form on a real terminal, or LOADIT_USER/LOADIT_PASSWORD
// when stdin isn't a TTY (scripted deployment).
func promptAdminCredentials() (user, password string, err error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		user, password = os.Getenv("LOADIT_USER"), os.Getenv("LOADIT_PASSWORD")
		if user == "" || password == "" {
			return "", "", fmt.Errorf("non-interactive session: set LOADIT_USER and LOADIT_PASSWORD")
		}
		return user, password, nil
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Admin user").
				Value(&user).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("user is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("Admin password").
				EchoMode(huh.EchoModePassword).
				Value(&password).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("password is required")
					}
					return nil
				}),
		),
	).WithTheme(huh.ThemeDracula())

	if err := form.Run(); err != nil {
		return "", "", fmt.Errorf("admin login form: %w", err)
	}
	return user, password, nil
}
