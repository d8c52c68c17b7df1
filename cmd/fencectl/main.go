// fencectl is a small administrative CLI for inspecting and repairing
// coordination state: checking locks, counting semaphore permits, clearing
// stuck permit sets, and showing rate-limit counters.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mirkobrombin/go-fence/v1/lock"
	"github.com/mirkobrombin/go-fence/v1/ratelimit"
	"github.com/mirkobrombin/go-fence/v1/semaphore"
	"github.com/mirkobrombin/go-fence/v1/store"
)

var redisAddr string

func dial(cmd *cobra.Command) (*store.Handle, error) {
	return store.Dial(cmd.Context(), store.Options{Addr: redisAddr}, store.WithTimeout(3*time.Second))
}

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "fencectl",
		Short:         "Inspect and repair distributed coordination state",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultAddr := os.Getenv("FENCE_REDIS_ADDR")
	if defaultAddr == "" {
		defaultAddr = "127.0.0.1:6379"
	}
	root.PersistentFlags().StringVar(&redisAddr, "redis-addr", defaultAddr, "address of the coordination store")

	lockCmd := &cobra.Command{Use: "lock", Short: "Inspect distributed locks"}
	lockCmd.AddCommand(
		&cobra.Command{
			Use:   "status <resource>",
			Short: "Report whether a resource is locked",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				h, err := dial(cmd)
				if err != nil {
					return err
				}
				defer h.Close()
				locked, err := lock.New(h, lock.Options{}).IsLocked(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if locked {
					fmt.Printf("%s: locked\n", args[0])
				} else {
					fmt.Printf("%s: unlocked\n", args[0])
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "break <resource>",
			Short: "Unconditionally delete a lock record",
			Long: `Deletes the lock record regardless of owner. This bypasses the
token check the holders rely on; use only when a holder is known dead
and waiting for TTL expiry is not an option.`,
			Args: cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				h, err := dial(cmd)
				if err != nil {
					return err
				}
				defer h.Close()
				if err := h.Delete(cmd.Context(), lock.Prefix+args[0]); err != nil {
					return err
				}
				fmt.Printf("%s: lock broken\n", args[0])
				return nil
			},
		},
	)

	semCmd := &cobra.Command{Use: "sem", Short: "Inspect semaphores"}
	semCmd.AddCommand(
		&cobra.Command{
			Use:   "count <resource>",
			Short: "Report the number of held permits",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				h, err := dial(cmd)
				if err != nil {
					return err
				}
				defer h.Close()
				n, err := semaphore.New(h, semaphore.Options{}).Count(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Printf("%s: %d permits held\n", args[0], n)
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear <resource>",
			Short: "Drop every permit of a semaphore",
			Long: `Removes the whole permit set. Permits leaked by crashed holders
never expire on their own while the set keeps being refreshed by new
acquisitions; this clears them.`,
			Args: cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				h, err := dial(cmd)
				if err != nil {
					return err
				}
				defer h.Close()
				if err := h.Delete(cmd.Context(), semaphore.Prefix+args[0]); err != nil {
					return err
				}
				fmt.Printf("%s: semaphore cleared\n", args[0])
				return nil
			},
		},
	)

	rlCmd := &cobra.Command{Use: "rl", Short: "Inspect rate limits"}
	rlCmd.AddCommand(
		&cobra.Command{
			Use:   "show <identifier> <max>",
			Short: "Show remaining requests for an identifier",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				var max int64
				if _, err := fmt.Sscanf(args[1], "%d", &max); err != nil {
					return fmt.Errorf("invalid max %q: %w", args[1], err)
				}
				h, err := dial(cmd)
				if err != nil {
					return err
				}
				defer h.Close()
				n, err := ratelimit.New(h).Remaining(cmd.Context(), args[0], max)
				if err != nil {
					return err
				}
				fmt.Printf("%s: %d of %d remaining\n", args[0], n, max)
				return nil
			},
		},
		&cobra.Command{
			Use:   "reset <identifier>",
			Short: "Clear the current window for an identifier",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				h, err := dial(cmd)
				if err != nil {
					return err
				}
				defer h.Close()
				if err := ratelimit.New(h).Reset(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Printf("%s: window reset\n", args[0])
				return nil
			},
		},
	)

	root.AddCommand(lockCmd, semCmd, rlCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fencectl:", err)
		os.Exit(1)
	}
}
