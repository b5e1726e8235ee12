// Command dbglinkd is the device-side USB-CDC serial debug link daemon: it parses
// the IDE debug protocol off one character device and drives script upload/execute,
// file upload, framebuffer preview, and stdout polling for an external scripting
// runtime.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/usbdbg/dbglinkd/internal/config"
	"github.com/usbdbg/dbglinkd/internal/dispatch"
	"github.com/usbdbg/dbglinkd/internal/frame"
	"github.com/usbdbg/dbglinkd/internal/hwsink"
	"github.com/usbdbg/dbglinkd/internal/ioloop"
	"github.com/usbdbg/dbglinkd/internal/link"
	"github.com/usbdbg/dbglinkd/internal/monitor"
	"github.com/usbdbg/dbglinkd/internal/rotate"
	"github.com/usbdbg/dbglinkd/internal/transport"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	cfg := config.Default()

	device := flag.String("device", cfg.TransportDevice, "USB CDC character device path")
	fileRoot := flag.String("file-root", cfg.FileRoot, "root directory for uploaded files")
	arch := flag.String("arch", cfg.Arch, "architecture string reported by ARCH_STR")
	board := flag.String("board", cfg.Board, "board name reported by ARCH_STR")
	uid := flag.String("uid", cfg.UID, "unique id reported by ARCH_STR")
	monitorAddr := flag.String("monitor-addr", cfg.MonitorAddr, "enable the read-only Link Monitor on this address (empty disables it)")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("dbglinkd version %s\n", Version)
		os.Exit(0)
	}

	cfg.TransportDevice = *device
	cfg.FileRoot = *fileRoot
	cfg.Arch = *arch
	cfg.Board = *board
	cfg.UID = *uid
	cfg.MonitorAddr = *monitorAddr

	dev, err := transport.Open(cfg.TransportDevice)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	defer dev.Close()

	l := link.New(nil) // the scripting runtime is an external collaborator (spec.md §1); wire it here once one exists.

	d := &dispatch.Dispatcher{
		Link:     l,
		Out:      dev,
		Version:  dispatch.Version{Major: cfg.VersionMajor, Minor: cfg.VersionMinor, Micro: cfg.VersionMicro},
		Arch:     cfg.Arch,
		Board:    cfg.Board,
		UID:      cfg.UID,
		FileRoot: cfg.FileRoot,
		Encoder:  &hwsink.SoftwareJPEGEncoder{},
		Rotator:  rotate.SoftwareRotator{},
	}

	var mon *monitor.Server
	if cfg.MonitorAddr != "" {
		mon = monitor.NewServer(cfg.MonitorAddr)
		d.OnTrace = mon.Trace
		l.OnAttachChange = mon.TraceAttach
	}

	p := frame.New(d, dev.ReadFull)

	loop, err := ioloop.New(dev, l, p)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	defer loop.Close()
	loop.SelectTimeout = cfg.ReadTimeout
	loop.RTSRateLimit = cfg.RTSRateLimit

	if err := run(loop, mon, cfg.TransportDevice); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run(loop *ioloop.Loop, mon *monitor.Server, device string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := loop.Run(ctx); err != nil {
			errChan <- fmt.Errorf("ioloop: %w", err)
		}
	}()

	if mon != nil {
		go func() {
			if err := mon.Run(ctx); err != nil {
				errChan <- fmt.Errorf("monitor: %w", err)
			}
		}()
	}

	log.Println("dbglinkd started")
	log.Printf("Transport device: %s", device)
	log.Println("Press Ctrl+C to stop")

	select {
	case <-sigChan:
		log.Println("Shutdown signal received")
		cancel()
		loop.Wake()
	case err := <-errChan:
		cancel()
		loop.Wake()
		return err
	}

	log.Println("dbglinkd stopped")
	return nil
}
