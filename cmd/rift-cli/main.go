// cmd/rift-cli is the Cobra-based CLI client (spec §9 ambient CLI
// surface): put/get against a node's sync protocol, health/peers against
// its admin HTTP surface.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/riftdb/riftdb/internal/discovery"
	"github.com/riftdb/riftdb/pkg/client"
)

var (
	nodeAddr      string
	adminAddr     string
	sharedSecret  string
	useEncryption bool
	timeout       time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "rift-cli",
		Short: "CLI client for a riftdb node",
	}

	root.PersistentFlags().StringVarP(&nodeAddr, "addr", "a", "127.0.0.1:7531", "node sync address")
	root.PersistentFlags().StringVar(&adminAddr, "admin-addr", "http://127.0.0.1:8081", "node admin HTTP address")
	root.PersistentFlags().StringVar(&sharedSecret, "shared-secret", "", "shared-secret credential")
	root.PersistentFlags().BoolVar(&useEncryption, "encrypt", false, "perform ECDH key exchange after handshake")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "dial/request timeout")

	root.AddCommand(putCmd(), getCmd(), healthCmd(), peersCmd(), peerAddCmd(), peerRemoveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func dial() (*client.Client, error) {
	return client.Dial(nodeAddr, timeout, "rift-cli", sharedSecret, useEncryption)
}

func putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <collection> <key> <json-value>",
		Short: "Write a document",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()

			entry, err := c.Put(args[0], args[1], []byte(args[2]))
			if err != nil {
				return err
			}
			prettyPrint(entry)
			return nil
		},
	}
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <collection> <key>",
		Short: "Read a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()

			found, content, err := c.Get(args[0], args[1])
			if err != nil {
				return err
			}
			if !found {
				fmt.Printf("key %q not found in %q\n", args[1], args[0])
				return nil
			}
			fmt.Println(string(content))
			return nil
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Report node liveness, offline queue depth, and peer sync status",
		RunE: func(cmd *cobra.Command, args []string) error {
			admin := client.NewAdminClient(adminAddr, timeout)
			out, err := admin.Healthz()
			if err != nil {
				return err
			}
			prettyPrint(out)
			return nil
		},
	}
}

func peersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "peers",
		Short: "List known peers and their gossip health",
		RunE: func(cmd *cobra.Command, args []string) error {
			admin := client.NewAdminClient(adminAddr, timeout)
			out, err := admin.Peers()
			if err != nil {
				return err
			}
			prettyPrint(out)
			return nil
		},
	}
}

// peerAddCmd writes a RemotePeerConfiguration document, which then
// propagates to every node through the normal Oplog gossip path (spec
// §9: "remote peer configs are CRUD via API and replicated").
func peerAddCmd() *cobra.Command {
	var peerType string
	var enabled bool
	cmd := &cobra.Command{
		Use:   "peer-add <node-id> <address>",
		Short: "Add or update a replicated peer configuration",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()

			content, err := json.Marshal(map[string]any{
				"node_id":    args[0],
				"address":    args[1],
				"type":       peerType,
				"is_enabled": enabled,
			})
			if err != nil {
				return err
			}
			entry, err := c.Put(discovery.PeerCollection, args[0], content)
			if err != nil {
				return err
			}
			prettyPrint(entry)
			return nil
		},
	}
	cmd.Flags().StringVar(&peerType, "type", "static_remote", "peer type: static_remote or cloud_remote")
	cmd.Flags().BoolVar(&enabled, "enabled", true, "whether the peer is active")
	return cmd
}

// peerRemoveCmd disables a peer configuration in place, rather than
// tombstoning it, so the replicated history shows who disabled a peer
// and when rather than erasing the record.
func peerRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "peer-remove <node-id> <address>",
		Short: "Disable a replicated peer configuration",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()

			content, err := json.Marshal(map[string]any{
				"node_id":    args[0],
				"address":    args[1],
				"type":       "static_remote",
				"is_enabled": false,
			})
			if err != nil {
				return err
			}
			entry, err := c.Put(discovery.PeerCollection, args[0], content)
			if err != nil {
				return err
			}
			prettyPrint(entry)
			return nil
		},
	}
}

func prettyPrint(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
