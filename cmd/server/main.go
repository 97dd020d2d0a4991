// Command server runs a single Kademlia DHT node: a UDP RPC endpoint and a
// REST endpoint for client Put/Get traffic.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/kadhash/dht/internal/idkey"
	"github.com/kadhash/dht/internal/logging"
	"github.com/kadhash/dht/internal/network"
	"github.com/kadhash/dht/internal/service"
	"github.com/kadhash/dht/internal/storage"
	"github.com/kadhash/dht/transport/udp"
)

func main() {
	ipAddress := flag.String("ip", "127.0.0.1", "IP address this node listens on")
	port := flag.Uint("port", 6666, "UDP port the RPC endpoint listens on")
	restPort := flag.Uint("rest-port", 6667, "Port the REST client endpoint listens on")
	nodeIDHex := flag.String("id", "", "hex-encoded node identifier; derived from ip:port when omitted")
	joinAddress := flag.String("join", "", "address:port of a node already in the network")
	joinID := flag.String("join-id", "", "hex-encoded identifier of the join address; derived from the address when omitted")
	concurrency := flag.Uint("concurrency", uint(service.DefaultAlpha), "lookup concurrency factor (ALPHA)")
	replication := flag.Uint("replication", uint(service.DefaultK), "replication factor (K)")

	flag.Parse()

	logger, err := logging.NewProductionZap()
	if err != nil {
		fmt.Printf("cannot initialize logger: %v\n", err)
		return
	}

	self, err := resolveNodeID(*nodeIDHex, *ipAddress, uint32(*port))
	if err != nil {
		logger.Error("cannot resolve node identifier", logging.F("err", err.Error()))
		return
	}

	udpAddr := fmt.Sprintf("%s:%d", *ipAddress, *port)
	transport, err := udp.Listen(udpAddr)
	if err != nil {
		logger.Error("cannot start UDP transport", logging.F("addr", udpAddr), logging.F("err", err.Error()))
		return
	}

	node, err := service.New(service.Config{
		Self:      self,
		Address:   *ipAddress,
		Port:      uint32(*port),
		Transport: transport,
		Storage:   storage.NewMemStore(),
		Logger:    logger,
		Clock:     clock.New(),
		K:         int(*replication),
		Alpha:     int(*concurrency),
	})
	if err != nil {
		logger.Error("cannot construct node", logging.F("err", err.Error()))
		return
	}
	defer node.Close()

	logger.Info("node started",
		logging.F("nodeId", self.String()),
		logging.F("rpcAddr", udpAddr),
		logging.F("restPort", *restPort),
	)

	if *joinAddress != "" {
		if err := joinNetwork(node, *joinAddress, *joinID); err != nil {
			logger.Error("join failed", logging.F("join", *joinAddress), logging.F("err", err.Error()))
		} else {
			logger.Info("joined network", logging.F("via", *joinAddress))
		}
	} else {
		logger.Info("no join address supplied, starting as a bootstrap node")
	}

	restAddr := fmt.Sprintf("%s:%d", *ipAddress, *restPort)
	logger.Info("starting REST endpoint", logging.F("addr", restAddr))
	if err := http.ListenAndServe(restAddr, node.Router()); err != nil {
		logger.Error("REST endpoint stopped", logging.F("err", err.Error()))
	}
}

func resolveNodeID(hexID, address string, port uint32) (idkey.ID, error) {
	if hexID != "" {
		return idkey.FromHex(hexID)
	}
	// Hashing {address, port} is convenient for local testing but weak
	// against address reuse; production deployments should supply -id
	// explicitly.
	seed := fmt.Sprintf("%s:%d", address, port)
	return idkey.FromSeed([]byte(seed)), nil
}

func joinNetwork(node *service.Node, joinAddress, joinIDHex string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	host, portStr, err := net.SplitHostPort(joinAddress)
	if err != nil {
		return fmt.Errorf("invalid join address %q: %w", joinAddress, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid join port in %q: %w", joinAddress, err)
	}

	seedID, err := resolveNodeID(joinIDHex, host, uint32(port))
	if err != nil {
		return fmt.Errorf("cannot resolve join identifier: %w", err)
	}
	seed := network.Contact{NodeID: seedID, Address: host, Port: uint32(port)}
	return node.Join(ctx, seed)
}
