package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alvarosanz/loadit/internal/cluster"
	"github.com/alvarosanz/loadit/internal/wire"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage cluster session records (admin only)",
}

var (
	sessionUser       string
	sessionIsAdmin    bool
	sessionCanCreate  bool
	sessionDatabases  string
	sessionServer     string
	sessionAdminToken string
)

var sessionAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add or replace a session record, printing its signed token",
	RunE:  runSessionAdd,
}

var sessionRemoveCmd = &cobra.Command{
	Use:   "remove <user>",
	Short: "Remove a session record",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionRemove,
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List session records",
	RunE:  runSessionList,
}

func init() {
	for _, c := range []*cobra.Command{sessionAddCmd, sessionRemoveCmd, sessionListCmd} {
		c.Flags().StringVar(&sessionServer, "server", "", "central coordinator address")
		c.Flags().StringVar(&sessionAdminToken, "token", os.Getenv("LOADIT_TOKEN"), "admin session token")
	}
	sessionAddCmd.Flags().StringVar(&sessionUser, "user", "", "user name for the new session")
	sessionAddCmd.Flags().BoolVar(&sessionIsAdmin, "admin", false, "grant admin privileges")
	sessionAddCmd.Flags().BoolVar(&sessionCanCreate, "create-allowed", false, "allow creating new databases")
	sessionAddCmd.Flags().StringVar(&sessionDatabases, "databases", "", "comma-separated allowed databases (empty: all)")

	sessionCmd.AddCommand(sessionAddCmd, sessionRemoveCmd, sessionListCmd)
	rootCmd.AddCommand(sessionCmd)
}

func dialAdmin() (*wire.Conn, error) {
	if sessionServer == "" {
		return nil, fmt.Errorf("--server is required")
	}
	if sessionAdminToken == "" {
		return nil, fmt.Errorf("--token (or LOADIT_TOKEN) is required")
	}
	return wire.Dial(sessionServer, wire.ClientTLSConfig())
}

func sendSessionsOp(req cluster.Request) (cluster.Response, error) {
	conn, err := dialAdmin()
	if err != nil {
		return cluster.Response{}, err
	}
	defer conn.Close()

	req.Op = cluster.OpSessions
	req.Token = sessionAdminToken
	req.ClientVersion = cluster.ProtocolVersion
	if err := conn.WriteJSON(req); err != nil {
		return cluster.Response{}, err
	}
	var resp cluster.Response
	if err := conn.ReadJSON(&resp); err != nil {
		return cluster.Response{}, err
	}
	if resp.Error != "" {
		return cluster.Response{}, fmt.Errorf("%s", resp.Error)
	}
	return resp, nil
}

func runSessionAdd(cmd *cobra.Command, args []string) error {
	if sessionUser == "" {
		return fmt.Errorf("--user is required")
	}
	var databases []string
	if sessionDatabases != "" {
		databases = strings.Split(sessionDatabases, ",")
	}
	sess := cluster.Session{
		User:          sessionUser,
		IsAdmin:       sessionIsAdmin,
		CreateAllowed: sessionCanCreate,
		Databases:     databases,
	}
	resp, err := sendSessionsOp(cluster.Request{NewSession: &sess})
	if err != nil {
		return err
	}
	fmt.Println(resp.Token)
	return nil
}

func runSessionRemove(cmd *cobra.Command, args []string) error {
	_, err := sendSessionsOp(cluster.Request{TargetUser: args[0], Remove: true})
	return err
}

func runSessionList(cmd *cobra.Command, args []string) error {
	resp, err := sendSessionsOp(cluster.Request{})
	if err != nil {
		return err
	}
	for _, sess := range resp.Sessions {
		fmt.Printf("%s\tadmin=%v\tcreate_allowed=%v\tdatabases=%v\n", sess.User, sess.IsAdmin, sess.CreateAllowed, sess.Databases)
	}
	return nil
}
