package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/openbft/consensuswire/consensus"
	"github.com/openbft/consensuswire/network"
	"github.com/openbft/consensuswire/types"
)

// Version information
const (
	Version = "0.1.0"
	Name    = "consensuswire"
)

func main() {
	fmt.Printf("%s v%s\n", Name, Version)

	_ = godotenv.Load()

	nodeCfg := network.DefaultConfig()
	nodeCfg.NodeID = getEnv("CWIRE_NODE_ID", nodeCfg.NodeID)
	nodeCfg.Host = getEnv("CWIRE_HOST", nodeCfg.Host)
	nodeCfg.Port = getEnvInt("CWIRE_PORT", nodeCfg.Port)

	self, err := types.ParseAddress(getEnv("CWIRE_SELF_ADDRESS", "0x000102030405060708090a0b0c0d0e0f"))
	if err != nil {
		log.Fatalf("invalid CWIRE_SELF_ADDRESS: %v", err)
	}

	rmCfg := network.DefaultRequestManagerConfig()
	if raw := os.Getenv("CWIRE_RPC_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			log.Fatalf("invalid CWIRE_RPC_TIMEOUT: %v", err)
		}
		rmCfg.Timeout = d
	}

	node := network.NewNode(nodeCfg, nil)
	manager := network.NewRequestManager(node, consensus.ChannelRPC, rmCfg)
	loopback := consensus.NewLoopback()
	sender := consensus.NewSender(self, node, node, manager, loopback)

	// Inbound direct-send envelopes from remote peers.
	node.RegisterChannel(consensus.ChannelDirectSend, func(from types.PeerHandle, frame *network.Frame) {
		msg, err := frame.Envelope()
		if err != nil {
			log.Printf("main: dropping undecodable envelope from %s: %v", from, err)
			return
		}
		log.Printf("main: %s from %s", msg.Kind(), from)
	})

	// Inbound RPC requests; a real deployment plugs the consensus block
	// store in here.
	manager.SetRequestHandler(func(from types.PeerHandle, requestID string, req types.ConsensusMsg) {
		if req.Kind() != types.KindBlockRetrievalRequest {
			log.Printf("main: unsupported rpc %s from %s", req.Kind(), from)
			return
		}
		resp := types.NewBlockRetrievalResponseMsg(&types.BlockRetrievalResponse{
			Status: types.RetrievalIDNotFound,
		})
		if err := manager.Respond(from, requestID, resp); err != nil {
			log.Printf("main: failed to respond to %s: %v", from, err)
		}
	})

	if err := node.Start(); err != nil {
		log.Fatalf("failed to start node: %v", err)
	}

	// Static peer and participant wiring from the environment.
	for handle, endpoint := range parsePairs(os.Getenv("CWIRE_PEERS")) {
		node.RegisterPeer(types.PeerHandle(handle), endpoint)
	}
	for addrHex, handle := range parsePairs(os.Getenv("CWIRE_PARTICIPANTS")) {
		addr, err := types.ParseAddress(addrHex)
		if err != nil {
			log.Fatalf("invalid participant address %q: %v", addrHex, err)
		}
		node.BindParticipant(addr, types.PeerHandle(handle))
	}

	// Local consumer for self-addressed proposals, one queue per kind.
	consumeCtx, stopConsume := context.WithCancel(context.Background())
	go consumeLoopback(consumeCtx, loopback, self, types.KindProposal)
	go consumeLoopback(consumeCtx, loopback, self, types.KindVote)

	adminCfg := network.DefaultAdminConfig()
	adminCfg.Port = getEnvInt("CWIRE_ADMIN_PORT", adminCfg.Port)
	auth := network.NewAuthenticatorFromEnv()
	if auth.IsEnabled() {
		log.Printf("main: admin auth enabled, token %s", auth.Token())
	}
	admin := network.NewAdminServer(adminCfg, auth, func() interface{} {
		return map[string]interface{}{
			"node":   node.Stats(),
			"sender": sender.Stats(),
		}
	}, nil)
	admin.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Printf("main: shutting down")
	stopConsume()
	loopback.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = admin.Stop(shutdownCtx)
	node.Stop()
}

// consumeLoopback drains one loopback queue, keeping per-kind FIFO order.
func consumeLoopback(ctx context.Context, lb *consensus.Loopback, addr types.Address, kind types.Kind) {
	key := consensus.QueueKey{Address: addr, Kind: kind}
	for {
		msg, err := lb.Receive(ctx, key)
		if err != nil {
			return
		}
		log.Printf("main: self-delivered %s", msg.Kind())
	}
}

// parsePairs parses "key=value,key=value" environment values.
func parsePairs(raw string) map[string]string {
	pairs := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			log.Printf("main: skipping malformed entry %q", entry)
			continue
		}
		pairs[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return pairs
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return v
}
