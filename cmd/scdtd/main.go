package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/scdt-project/scdt/pkg/config"
	"github.com/scdt-project/scdt/pkg/peer"
	"github.com/scdt-project/scdt/pkg/transport"
	"github.com/scdt-project/scdt/pkg/wire"
	log "github.com/sirupsen/logrus"
)

const defaultDiagDir = "."

func main() {
	log.SetLevel(log.InfoLevel)

	configPath := flag.String("c", "", "peer configuration INI file")
	listenPort := flag.Int("p", config.DefaultPort, "local UDP port to bind")
	diagDir := flag.String("d", defaultDiagDir, "directory for times.txt/child.txt on shutdown")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Printf("error encountered when loading config : %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	sock, err := transport.NewSocket(*listenPort)
	if err != nil {
		fmt.Printf("could not bind UDP socket on port %d : %v\n", *listenPort, err)
		os.Exit(1)
	}

	self := wire.Addr{IP: outboundIPv4(), Port: uint16(*listenPort)}

	p, err := peer.New(cfg, self, sock, *diagDir)
	if err != nil {
		fmt.Printf("failed to initialize peer : %v\n", err)
		os.Exit(1)
	}

	log.WithFields(log.Fields{"self": self, "isRoot": cfg.IsRoot, "port": *listenPort}).Info("starting scdt peer")
	p.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	if err := p.Stop(); err != nil {
		log.WithError(err).Warn("error during shutdown")
	}
}

// outboundIPv4 picks the first non-loopback IPv4 address bound to this
// host, used to report a peer's own identity to the overlay: a socket
// bound to 0.0.0.0 cannot report that address back as its own.
func outboundIPv4() [4]byte {
	addrs, err := net.InterfaceAddrs()
	if err == nil {
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok || ipNet.IP.IsLoopback() {
				continue
			}
			if ip4 := ipNet.IP.To4(); ip4 != nil {
				var out [4]byte
				copy(out[:], ip4)
				return out
			}
		}
	}
	return [4]byte{127, 0, 0, 1}
}
