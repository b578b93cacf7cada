// Command meridianctl is an operator CLI for a running meridiond: it
// registers/removes nodes, submits commands, inspects transactions, and
// triggers cross-shard queries over the JSON/HTTP external interface. It
// is grounded in the teacher's cmd/warren CLI commands (one cobra.Command
// per operation, a --manager/--server flag naming the target node), with
// Warren's gRPC client swapped for a small JSON/HTTP client since
// Meridian's wire protocol is JSON over net/http (see DESIGN.md).
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "meridianctl",
	Short: "Operator CLI for a running meridiond node",
}

func init() {
	rootCmd.PersistentFlags().String("server", "127.0.0.1:8600", "meridiond API address")

	rootCmd.AddCommand(nodeCmd, submitCmd, txnCmd, queryCmd, sampleCmd)
	nodeCmd.AddCommand(nodeRegisterCmd, nodeDeregisterCmd, nodeHeartbeatCmd)
	txnCmd.AddCommand(txnBeginCmd, txnExecuteCmd)

	nodeRegisterCmd.Flags().String("node-id", "", "node id")
	nodeRegisterCmd.Flags().String("addr", "", "node address")
	nodeRegisterCmd.Flags().Int("port", 0, "node port")
	nodeDeregisterCmd.Flags().String("node-id", "", "node id")
	nodeHeartbeatCmd.Flags().String("node-id", "", "node id")

	submitCmd.Flags().String("command", "", "command name")
	submitCmd.Flags().String("payload", "", "command payload")

	txnBeginCmd.Flags().String("kind", "two_phase", "transaction kind: two_phase or saga")
	txnExecuteCmd.Flags().String("txn-id", "", "transaction id")

	queryCmd.Flags().String("query", "", "query text")
	queryCmd.Flags().StringSlice("shards", nil, "optional shard id subset")

	sampleCmd.Flags().String("node-id", "", "node id")
	sampleCmd.Flags().Float64("cpu", 0, "CPU percent")
	sampleCmd.Flags().Float64("mem", 0, "memory percent")
}

var nodeCmd = &cobra.Command{Use: "node", Short: "Manage cluster membership"}

var nodeRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a node with the cluster",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("node-id")
		addr, _ := cmd.Flags().GetString("addr")
		port, _ := cmd.Flags().GetInt("port")
		return call(cmd, "/nodes/register", map[string]any{"node_id": id, "addr": addr, "port": port})
	},
}

var nodeDeregisterCmd = &cobra.Command{
	Use:   "deregister",
	Short: "Remove a node from the cluster",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("node-id")
		return call(cmd, "/nodes/deregister", map[string]any{"node_id": id})
	},
}

var nodeHeartbeatCmd = &cobra.Command{
	Use:   "heartbeat",
	Short: "Send a heartbeat for a node",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("node-id")
		return call(cmd, "/nodes/heartbeat", map[string]any{"node_id": id})
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a command to the replicated log",
	RunE: func(cmd *cobra.Command, args []string) error {
		command, _ := cmd.Flags().GetString("command")
		payload, _ := cmd.Flags().GetString("payload")
		return call(cmd, "/log/submit", map[string]any{"command": command, "payload": []byte(payload)})
	},
}

var txnCmd = &cobra.Command{Use: "txn", Short: "Manage distributed transactions"}

var txnBeginCmd = &cobra.Command{
	Use:   "begin",
	Short: "Begin a 2PC or saga transaction",
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")
		return call(cmd, "/txn/begin", map[string]any{"kind": kind})
	},
}

var txnExecuteCmd = &cobra.Command{
	Use:   "execute",
	Short: "Execute a transaction to its terminal state",
	RunE: func(cmd *cobra.Command, args []string) error {
		txnID, _ := cmd.Flags().GetString("txn-id")
		return call(cmd, "/txn/execute", map[string]any{"txn_id": txnID})
	},
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Run a cross-shard query",
	RunE: func(cmd *cobra.Command, args []string) error {
		query, _ := cmd.Flags().GetString("query")
		shards, _ := cmd.Flags().GetStringSlice("shards")
		return call(cmd, "/query/execute", map[string]any{"query": query, "shard_ids": shards})
	},
}

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Push a resource sample for elastic scaling",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("node-id")
		cpu, _ := cmd.Flags().GetFloat64("cpu")
		mem, _ := cmd.Flags().GetFloat64("mem")
		return call(cmd, "/metrics/resource_sample", map[string]any{"node_id": id, "cpu_pct": cpu, "mem_pct": mem})
	},
}

// call POSTs body as JSON to path on the --server address and prints the
// response body.
func call(cmd *cobra.Command, path string, body map[string]any) error {
	server, _ := cmd.Flags().GetString("server")
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post("http://"+server+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("meridianctl: request to %s failed: %w", server, err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("meridianctl: %s returned status %d", path, resp.StatusCode)
	}
	return nil
}
