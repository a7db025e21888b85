package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hed1ad/netguard/internal/cli"
	netio "github.com/hed1ad/netguard/pkg/io"
	"github.com/hed1ad/netguard/pkg/io/flow"
	"github.com/hed1ad/netguard/pkg/io/pcap"
)

func main() {
	root := cli.NewRootCommand(
		cli.WithReader(".pcap", openPcap),
		cli.WithReader(".pcapng", openPcap),
	)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "netguard:", err)
		os.Exit(1)
	}
}

func openPcap(path string, opts cli.ReaderOptions) (netio.EventReader, error) {
	r, err := pcap.NewFileReader(path, flow.WithDevice(opts.DeviceID, opts.Location))
	if err != nil {
		return nil, err
	}
	if opts.Filter != "" {
		if err := r.SetBPFFilter(opts.Filter); err != nil {
			r.Close()
			return nil, fmt.Errorf("bpf filter %q: %w", opts.Filter, err)
		}
	}
	return r, nil
}
