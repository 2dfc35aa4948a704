package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/n-ulricksen/m6502jit/internal/jit"
)

var logger *zap.SugaredLogger

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:   "m6502jit",
		Short: "A decompile-and-recompile 6502 execution engine",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := zap.NewDevelopmentConfig()
			if !verbose {
				cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
			}
			raw, err := cfg.Build()
			if err != nil {
				return err
			}
			logger = raw.Sugar()
			return nil
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newRunCmd(), newDisasmCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var entry string
	var loadBase string
	var ramSize int
	var nmiInterval time.Duration
	var trace bool

	cmd := &cobra.Command{
		Use:   "run <image>",
		Short: "Load a flat binary image and run it from an entry address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			base, err := parseAddr(loadBase)
			if err != nil {
				return fmt.Errorf("--load-base: %w", err)
			}
			entryAddr, err := parseAddr(entry)
			if err != nil {
				return fmt.Errorf("--entry: %w", err)
			}

			bus := jit.NewBus()
			if err := bus.Attach(jit.NewRAM(ramSize), 0x0000, false); err != nil {
				return err
			}
			if err := bus.Attach(jit.NewROM(image), base, false); err != nil {
				return err
			}

			hal := jit.NewCPU(bus)
			hal.DebugSink = func(text string) { logger.Debugw("debug hook", "text", text) }

			var extraCustomizers []jit.Customizer
			if trace {
				extraCustomizers = append(extraCustomizers, jit.WithDebugTrace)
			}

			cache := jit.NewCache(logger.Named("cache"))
			sched := jit.NewStandardScheduler(bus, cache, logger.Named("scheduler"), extraCustomizers...)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// runCtx is cancelled the moment the core scheduler loop returns,
			// whether cleanly or with an error, so a peripheral goroutine
			// with nothing left to serve never outlives it.
			runCtx, cancelRun := context.WithCancel(ctx)
			defer cancelRun()

			var group errgroup.Group
			group.Go(func() error {
				defer cancelRun()
				return sched.Run(runCtx, hal, entryAddr)
			})
			if nmiInterval > 0 {
				group.Go(func() error {
					return runPeripheralClock(runCtx, hal, nmiInterval)
				})
			}

			if err := group.Wait(); err != nil {
				return err
			}
			logger.Infow("halted", "history_depth", len(sched.History()))
			return nil
		},
	}

	cmd.Flags().StringVar(&entry, "entry", "0x8000", "entry address to start execution at")
	cmd.Flags().StringVar(&loadBase, "load-base", "0x8000", "address the image is attached at")
	cmd.Flags().IntVar(&ramSize, "ram-size", 0x0800, "size in bytes of the zero-page/stack/work RAM region")
	cmd.Flags().DurationVar(&nmiInterval, "nmi-interval", 0, "if nonzero, run a peripheral goroutine that raises NMI on this period")
	cmd.Flags().BoolVar(&trace, "trace", false, "log the accumulator after every source instruction boundary (via hal.DebugSink)")

	return cmd
}

// runPeripheralClock is a stand-in for a peripheral thread: it drives the
// emulated machine's non-maskable interrupt line on a fixed period,
// entirely independent of the core scheduler thread. It only ever touches
// hal through RequestNMI, which just latches a flag — it never reaches into
// the memory bus, cache, or SMC tracker directly, honoring the single-owner
// rule those belong to the core thread alone.
func runPeripheralClock(ctx context.Context, hal *jit.CPU, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			hal.RequestNMI()
		}
	}
}

func newDisasmCmd() *cobra.Command {
	var entry string
	var loadBase string

	cmd := &cobra.Command{
		Use:   "disasm <image>",
		Short: "Decompile the function reachable from an entry address and print its listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			base, err := parseAddr(loadBase)
			if err != nil {
				return fmt.Errorf("--load-base: %w", err)
			}
			entryAddr, err := parseAddr(entry)
			if err != nil {
				return fmt.Errorf("--entry: %w", err)
			}

			bus := jit.NewBus()
			if err := bus.Attach(jit.NewROM(image), base, false); err != nil {
				return err
			}

			fn, err := jit.Decompile(bus, entryAddr)
			if err != nil {
				return err
			}
			for _, line := range jit.Listing(fn) {
				fmt.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&entry, "entry", "0x8000", "entry address to decompile from")
	cmd.Flags().StringVar(&loadBase, "load-base", "0x8000", "address the image is attached at")

	return cmd
}

func parseAddr(s string) (uint16, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}
