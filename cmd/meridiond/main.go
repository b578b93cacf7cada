// Command meridiond runs one Meridian coordination-core node: it boots
// the ClusterSupervisor, serves the external JSON/HTTP interface, and
// runs every background loop (consensus tick, region heartbeat, elastic
// scaler). It is grounded in the teacher's cmd/warren "cluster init"
// path, generalized from container orchestration to the coordination
// core's wiring and trimmed to a single command since Meridian has no
// separate worker/manager role split.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cuemby/meridian/pkg/api"
	"github.com/cuemby/meridian/pkg/cluster"
	"github.com/cuemby/meridian/pkg/config"
	"github.com/cuemby/meridian/pkg/consensus"
	"github.com/cuemby/meridian/pkg/log"
	"github.com/cuemby/meridian/pkg/scale"
	"github.com/cuemby/meridian/pkg/types"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "meridiond",
	Short:   "Meridian coordination-core node daemon",
	Version: Version,
	RunE:    runDaemon,
}

func init() {
	rootCmd.Flags().String("node-id", "node-1", "Unique node id for this replica")
	rootCmd.Flags().String("bind-addr", "127.0.0.1", "Address this node advertises to peers")
	rootCmd.Flags().Int("bind-port", 7600, "Port this node advertises for peer RPCs")
	rootCmd.Flags().String("api-addr", "127.0.0.1:8600", "Address for the JSON/HTTP external interface")
	rootCmd.Flags().StringSlice("peers", nil, "Peer specs id=addr:port, comma-separated")
	rootCmd.Flags().String("config", "", "Path to a YAML config file overlaying defaults")
	rootCmd.Flags().String("data-dir", "", "Data directory for durable consensus storage (empty = in-memory)")
	rootCmd.Flags().Int("shard-replica-factor", 1, "Replicas per shard (not applied: the daemon bootstraps no shards at startup)")
	rootCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("log-json", true, "Output logs in JSON format")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})

	cfgPath, _ := cmd.Flags().GetString("config")
	cfg := config.Default()
	if cfgPath != "" {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("meridiond: load config: %w", err)
		}
		cfg = loaded
	}

	nodeID, _ := cmd.Flags().GetString("node-id")
	peerSpecs, _ := cmd.Flags().GetStringSlice("peers")
	peers, err := parsePeers(peerSpecs)
	if err != nil {
		return err
	}

	dataDir, _ := cmd.Flags().GetString("data-dir")
	replicaFactor, _ := cmd.Flags().GetInt("shard-replica-factor")

	opts := cluster.Options{
		NodeID:        types.NodeID(nodeID),
		Config:        cfg,
		Peers:         peers,
		ReplicaFactor: replicaFactor,
		ScaleTrigger:  scale.Trigger{CPUPct: 70, MemPct: 70, DiskPct: 80, QueryRPS: 1000, TxnRPS: 500},
		ScalePolicy:   scale.Policy{MinNodes: 1, MaxNodes: 64},
	}
	bindAddr, _ := cmd.Flags().GetString("bind-addr")
	bindPort, _ := cmd.Flags().GetInt("bind-port")
	if len(peers) > 0 {
		// A real peer set means this node talks to other processes over
		// the network; a single-voter group stays on the in-process
		// transport cluster.New defaults to.
		transport, err := consensus.NewTCPTransport(
			fmt.Sprintf("%s:%d", bindAddr, bindPort),
			fmt.Sprintf("%s:%d", bindAddr, bindPort),
			os.Stderr,
		)
		if err != nil {
			return fmt.Errorf("meridiond: start raft transport: %w", err)
		}
		opts.Transport = transport
	}
	if dataDir != "" {
		stores, err := openDurableStore(dataDir)
		if err != nil {
			return err
		}
		opts.Stores = stores
	}

	sup, err := cluster.New(opts)
	if err != nil {
		return fmt.Errorf("meridiond: construct supervisor: %w", err)
	}
	if err := sup.Start(); err != nil {
		return fmt.Errorf("meridiond: start supervisor: %w", err)
	}
	defer sup.Shutdown()

	if err := sup.AddNode(types.NodeID(nodeID), bindAddr, bindPort); err != nil {
		log.Logger.Warn().Err(err).Msg("self-registration failed")
	}

	apiAddr, _ := cmd.Flags().GetString("api-addr")
	server := api.NewServer(sup)
	go func() {
		if err := server.ListenAndServe(apiAddr); err != nil {
			log.Logger.Fatal().Err(err).Msg("api server exited")
		}
	}()
	log.Logger.Info().Str("node_id", nodeID).Str("api_addr", apiAddr).Msg("meridiond started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Logger.Info().Msg("meridiond shutting down")
	return nil
}

// parsePeers turns "id=addr:port" specs into consensus.Peer values.
func parsePeers(specs []string) ([]consensus.Peer, error) {
	var peers []consensus.Peer
	for _, spec := range specs {
		idAndAddr := strings.SplitN(spec, "=", 2)
		if len(idAndAddr) != 2 {
			return nil, fmt.Errorf("meridiond: invalid peer spec %q, want id=addr:port", spec)
		}
		addrPort := strings.SplitN(idAndAddr[1], ":", 2)
		if len(addrPort) != 2 {
			return nil, fmt.Errorf("meridiond: invalid peer address %q, want addr:port", idAndAddr[1])
		}
		var port int
		if _, err := fmt.Sscanf(addrPort[1], "%d", &port); err != nil {
			return nil, fmt.Errorf("meridiond: invalid peer port %q: %w", addrPort[1], err)
		}
		peers = append(peers, consensus.Peer{ID: types.NodeID(idAndAddr[0]), Addr: addrPort[0], Port: port})
	}
	return peers, nil
}
