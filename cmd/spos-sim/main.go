// Command spos-sim boots an SPOS kernel instance on the host machine: a
// cobra CLI around the same config/kernel/mem wiring a real firmware
// build would do at power-on, minus the actual silicon.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mnghiap/spos/internal/buttons"
	"github.com/mnghiap/spos/internal/config"
	"github.com/mnghiap/spos/internal/display"
	"github.com/mnghiap/spos/internal/klog"
	"github.com/mnghiap/spos/kernel"
	"github.com/mnghiap/spos/kernel/mem"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var (
		verbose  bool
		headless bool
		strategy string
	)

	root := &cobra.Command{
		Use:   "spos-sim",
		Short: "Run the SPOS preemptive scheduler and heap manager",
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&headless, "headless", false, "use a no-op display instead of a terminal UI")
	root.PersistentFlags().StringVar(&strategy, "policy", "even", "even|random|round-robin|inactive-aging|run-to-completion")
	if err := config.BindFlags(root.PersistentFlags(), v); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		klog.SetVerbose(verbose)
	}

	root.AddCommand(newRunCmd(v, &headless, &strategy))
	root.AddCommand(newPSCmd(v, &strategy))
	root.AddCommand(newHeapsCmd(v))
	return root
}

// buildKernel wires config, heaps, the idle process, and the autostart
// programs into a booted kernel, shared by every subcommand.
func buildKernel(v *viper.Viper, disp display.Display, strategy string) (*kernel.Kernel, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}

	btn := buttons.Static{}
	progTable := kernel.NewProgramTable(cfg.MaxPrograms)

	k := kernel.New(cfg, progTable, disp, btn, strategy, time.Now().UnixNano())

	strat := kernel.AllocStrategyFromConfig(cfg.DefaultAlloc)

	internalDriver := mem.NewInternalDriver(mem.Addr(cfg.HeapOffset), uint32(cfg.InternalUse)/2+uint32(cfg.InternalUse))
	internalHeap := mem.New("internal", internalDriver, uint32(cfg.InternalUse), strat, k.Critical(), k.Fatal)
	k.Heaps().Register(internalHeap)

	chip := mem.NewLoopbackChip(uint32(cfg.ExternalUse)/2 + uint32(cfg.ExternalUse))
	externalDriver := mem.NewExternalDriver(mem.Addr(cfg.ExternalStart), uint32(cfg.ExternalUse), chip, k.Critical())
	externalDriver.Init()
	externalHeap := mem.New("external", externalDriver, uint32(cfg.ExternalUse), strat, k.Critical(), k.Fatal)
	k.Heaps().Register(externalHeap)

	k.Boot()
	return k, nil
}

func newRunCmd(v *viper.Viper, headless *bool, strategy *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Boot the kernel and drive its scheduler off a wall-clock ticker",
		RunE: func(cmd *cobra.Command, args []string) error {
			disp := pickDisplay(*headless)
			k, err := buildKernel(v, disp, *strategy)
			if err != nil {
				return err
			}

			term, isTerminal := disp.(*display.Terminal)
			if isTerminal {
				go func() {
					if err := term.Run(); err != nil {
						fmt.Fprintln(os.Stderr, err)
					}
				}()
			}

			stop := make(chan struct{})
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sig
				close(stop)
			}()

			k.Run(stop)
			if isTerminal {
				term.Stop()
			}
			return nil
		},
	}
}

func newPSCmd(v *viper.Viper, strategy *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ps",
		Short: "Boot the kernel, run briefly, and print the process table",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := buildKernel(v, display.Null{}, *strategy)
			if err != nil {
				return err
			}
			for i := 0; i < 50; i++ {
				k.Tick()
			}
			procs := k.Procs()
			fmt.Printf("%-4s %-9s %-5s %-4s\n", "PID", "STATE", "PRIO", "PROG")
			procs.ForEachSlot(func(i int, s *kernel.ProcessSlot) {
				fmt.Printf("%-4d %-9s %-5d %-4d\n", i, s.State, s.Priority, s.ProgramID)
			})
			return nil
		},
	}
}

func newHeapsCmd(v *viper.Viper) *cobra.Command {
	var strategy string
	cmd := &cobra.Command{
		Use:   "heaps",
		Short: "Boot the kernel and dump each heap's allocation map",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := buildKernel(v, display.Null{}, strategy)
			if err != nil {
				return err
			}
			for _, h := range k.Heaps().All() {
				fmt.Printf("%s: %s\n", h.Name, h.DebugDumpMap())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&strategy, "policy", "even", "even|random|round-robin|inactive-aging|run-to-completion")
	return cmd
}

func pickDisplay(headless bool) display.Display {
	if headless {
		return display.Null{}
	}
	return display.NewTerminal()
}
