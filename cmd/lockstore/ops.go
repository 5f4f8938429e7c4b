package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"pkt.systems/lockstore"
	"pkt.systems/lockstore/id"
	"pkt.systems/lockstore/storage"
	"pkt.systems/pslog"
)

// document is the CLI's item shape: arbitrary JSON objects.
type document = map[string]any

// textStore narrows the generic store to string identifiers and raw JSON
// payloads so every subcommand works the same regardless of the configured
// identifier scheme.
type textStore struct {
	create      func(ctx context.Context) (string, storage.Lock, error)
	lockNew     func(ctx context.Context, idText string) (storage.Lock, error)
	lock        func(ctx context.Context, idText string) (storage.Lock, error)
	unlock      func(ctx context.Context, idText, token string) error
	forceUnlock func(ctx context.Context, idText string) error
	verify      func(ctx context.Context, idText, token string) (bool, error)
	load        func(ctx context.Context, idText string) (document, error)
	save        func(ctx context.Context, idText, token string, item document) error
	exists      func(ctx context.Context, idText string) (bool, error)
	scan        func(ctx context.Context, visit func(string) error) error
	highest     func(ctx context.Context) (string, bool, error)
	displayLock func(ctx context.Context, idText string) (string, error)
	wipe        func(ctx context.Context) error
	close       func() error
}

func openTextStore() (*textStore, error) {
	cfg := bindConfig()
	typeName := viper.GetString("type")
	scheme := viper.GetString("ids")
	codec := storage.JSON[document]()
	switch scheme {
	case "random":
		return adapt(cfg, storage.Type[document, id.Random]{Name: typeName, IDs: id.RandomIDs(), Codec: codec})
	case "sequential":
		return adapt(cfg, storage.Type[document, id.Sequential]{Name: typeName, IDs: id.SequentialIDs(), Codec: codec})
	case "simple":
		return adapt(cfg, storage.Type[document, id.Simple]{Name: typeName, IDs: id.SimpleIDs(), Codec: codec})
	default:
		return nil, fmt.Errorf("unknown identifier scheme %q (want random, sequential, or simple)", scheme)
	}
}

func adapt[K comparable](cfg lockstore.Config, typ storage.Type[document, K]) (*textStore, error) {
	store, err := lockstore.Open(cfg, typ)
	if err != nil {
		return nil, err
	}
	parse := func(text string) (K, error) {
		idv, err := typ.IDs.Parse(text)
		if err != nil {
			return idv, fmt.Errorf("parse id %q: %w", text, err)
		}
		return idv, nil
	}
	return &textStore{
		create: func(ctx context.Context) (string, storage.Lock, error) {
			idv, lock, err := store.Create(ctx)
			if err != nil {
				return "", storage.Lock{}, err
			}
			return typ.IDs.Text(idv), lock, nil
		},
		lockNew: func(ctx context.Context, idText string) (storage.Lock, error) {
			idv, err := parse(idText)
			if err != nil {
				return storage.Lock{}, err
			}
			return store.LockNew(ctx, idv)
		},
		lock: func(ctx context.Context, idText string) (storage.Lock, error) {
			idv, err := parse(idText)
			if err != nil {
				return storage.Lock{}, err
			}
			return store.Lock(ctx, idv)
		},
		unlock: func(ctx context.Context, idText, token string) error {
			idv, err := parse(idText)
			if err != nil {
				return err
			}
			return store.Unlock(ctx, idv, storage.Lock{Token: token})
		},
		forceUnlock: func(ctx context.Context, idText string) error {
			idv, err := parse(idText)
			if err != nil {
				return err
			}
			return store.ForceUnlock(ctx, idv)
		},
		verify: func(ctx context.Context, idText, token string) (bool, error) {
			idv, err := parse(idText)
			if err != nil {
				return false, err
			}
			return store.VerifyLock(ctx, idv, storage.Lock{Token: token})
		},
		load: func(ctx context.Context, idText string) (document, error) {
			idv, err := parse(idText)
			if err != nil {
				return nil, err
			}
			return store.Load(ctx, idv)
		},
		save: func(ctx context.Context, idText, token string, item document) error {
			idv, err := parse(idText)
			if err != nil {
				return err
			}
			return store.Save(ctx, idv, storage.Lock{Token: token}, item)
		},
		exists: func(ctx context.Context, idText string) (bool, error) {
			idv, err := parse(idText)
			if err != nil {
				return false, err
			}
			return store.Exists(ctx, idv)
		},
		scan: func(ctx context.Context, visit func(string) error) error {
			return store.ScanIDs(ctx, func(idv K) error {
				return visit(typ.IDs.Text(idv))
			})
		},
		highest: func(ctx context.Context) (string, bool, error) {
			idv, found, err := store.HighestSeenID(ctx)
			if err != nil || !found {
				return "", false, err
			}
			return typ.IDs.Text(idv), true, nil
		},
		displayLock: func(ctx context.Context, idText string) (string, error) {
			idv, err := parse(idText)
			if err != nil {
				return "", err
			}
			return store.DisplayLock(ctx, idv)
		},
		wipe:  store.Wipe,
		close: store.Close,
	}, nil
}

func runWithStore(cmd *cobra.Command, baseLogger pslog.Logger, fn func(ctx context.Context, store *textStore) error) error {
	cmd.SilenceUsage = true
	store, err := openTextStore()
	if err != nil {
		return err
	}
	defer store.close()
	return fn(commandContext(cmd, baseLogger), store)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newCreateCommand(baseLogger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "allocate a fresh identifier and return it locked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithStore(cmd, baseLogger, func(ctx context.Context, store *textStore) error {
				idText, lock, err := store.create(ctx)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"id": idText, "lock": lock})
			})
		},
	}
}

func newLockCommand(baseLogger pslog.Logger) *cobra.Command {
	var asNew bool
	cmd := &cobra.Command{
		Use:   "lock <id>",
		Short: "acquire the exclusive lock for an identifier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithStore(cmd, baseLogger, func(ctx context.Context, store *textStore) error {
				acquire := store.lock
				if asNew {
					acquire = store.lockNew
				}
				lock, err := acquire(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"id": args[0], "lock": lock})
			})
		},
	}
	cmd.Flags().BoolVar(&asNew, "new", false, "reserve a not-yet-existing identifier instead of locking an existing one")
	return cmd
}

func newUnlockCommand(baseLogger pslog.Logger) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "unlock <id>",
		Short: "release a held lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithStore(cmd, baseLogger, func(ctx context.Context, store *textStore) error {
				return store.unlock(ctx, args[0], token)
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "lock token returned by create or lock")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func newForceUnlockCommand(baseLogger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "force-unlock <id>",
		Short: "clear any lock unconditionally (operator recovery)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithStore(cmd, baseLogger, func(ctx context.Context, store *textStore) error {
				return store.forceUnlock(ctx, args[0])
			})
		},
	}
}

func newVerifyCommand(baseLogger pslog.Logger) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "verify <id>",
		Short: "check whether a token still owns the lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithStore(cmd, baseLogger, func(ctx context.Context, store *textStore) error {
				held, err := store.verify(ctx, args[0], token)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"id": args[0], "held": held})
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "lock token to verify")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func newSaveCommand(baseLogger pslog.Logger) *cobra.Command {
	var token, data string
	cmd := &cobra.Command{
		Use:   "save <id>",
		Short: "persist a JSON payload while holding the lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithStore(cmd, baseLogger, func(ctx context.Context, store *textStore) error {
				var item document
				if err := json.Unmarshal([]byte(data), &item); err != nil {
					return fmt.Errorf("parse --data: %w", err)
				}
				return store.save(ctx, args[0], token, item)
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "lock token returned by create or lock")
	cmd.Flags().StringVar(&data, "data", "", "JSON object payload")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func newLoadCommand(baseLogger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "load <id>",
		Short: "read and print a stored item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithStore(cmd, baseLogger, func(ctx context.Context, store *textStore) error {
				item, err := store.load(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(item)
			})
		},
	}
}

func newExistsCommand(baseLogger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "exists <id>",
		Short: "report whether an identifier is known to the backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithStore(cmd, baseLogger, func(ctx context.Context, store *textStore) error {
				exists, err := store.exists(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"id": args[0], "exists": exists})
			})
		},
	}
}

func newIDsCommand(baseLogger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "ids",
		Short: "enumerate every identifier in the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithStore(cmd, baseLogger, func(ctx context.Context, store *textStore) error {
				return store.scan(ctx, func(idText string) error {
					_, err := fmt.Fprintln(os.Stdout, idText)
					return err
				})
			})
		},
	}
}

func newShowLockCommand(baseLogger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "show-lock <id>",
		Short: "describe the current lock state of an identifier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithStore(cmd, baseLogger, func(ctx context.Context, store *textStore) error {
				display, err := store.displayLock(ctx, args[0])
				if err != nil {
					return err
				}
				if display == "" {
					display = "unlocked"
				}
				fmt.Fprintln(os.Stdout, display)
				return nil
			})
		},
	}
}

func newHighestCommand(baseLogger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "highest",
		Short: "print the highest identifier handed out so far",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithStore(cmd, baseLogger, func(ctx context.Context, store *textStore) error {
				idText, found, err := store.highest(ctx)
				if err != nil {
					return err
				}
				if !found {
					fmt.Fprintln(os.Stdout, "none")
					return nil
				}
				fmt.Fprintln(os.Stdout, idText)
				return nil
			})
		},
	}
}

func newWipeCommand(baseLogger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "wipe",
		Short: "delete every item, lock, and metadata record (requires --allow-wipe)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithStore(cmd, baseLogger, func(ctx context.Context, store *textStore) error {
				return store.wipe(ctx)
			})
		},
	}
}

// exerciseReport tallies the outcome of a contention workout.
type exerciseReport struct {
	ID        string  `json:"id"`
	Workers   int     `json:"workers"`
	Attempts  int     `json:"attempts"`
	Succeeded int64   `json:"succeeded"`
	Contended int64   `json:"contended"`
	Failed    int64   `json:"failed"`
	Counter   float64 `json:"counter"`
}

// runExercise races workers over one shared counter item. Every worker loops
// lock, load, increment, save, unlock; losing the lock race counts as
// contention, any other error as a failure. The final counter must equal the
// number of successful rounds or the lock protocol is broken.
func runExercise(ctx context.Context, store *textStore, workers, attempts int) (exerciseReport, error) {
	idText, lock, err := store.create(ctx)
	if err != nil {
		return exerciseReport{}, err
	}
	if err := store.save(ctx, idText, lock.Token, document{"counter": float64(0)}); err != nil {
		return exerciseReport{}, err
	}
	if err := store.unlock(ctx, idText, lock.Token); err != nil {
		return exerciseReport{}, err
	}

	var succeeded, contended, failed atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < attempts; i++ {
				held, err := store.lock(ctx, idText)
				if errors.Is(err, storage.ErrAlreadyLocked) {
					contended.Add(1)
					continue
				}
				if err != nil {
					failed.Add(1)
					continue
				}
				item, err := store.load(ctx, idText)
				if err != nil {
					failed.Add(1)
					_ = store.unlock(ctx, idText, held.Token)
					continue
				}
				counter, _ := item["counter"].(float64)
				item["counter"] = counter + 1
				if err := store.save(ctx, idText, held.Token, item); err != nil {
					failed.Add(1)
					_ = store.unlock(ctx, idText, held.Token)
					continue
				}
				if err := store.unlock(ctx, idText, held.Token); err != nil {
					failed.Add(1)
					continue
				}
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()

	item, err := store.load(ctx, idText)
	if err != nil {
		return exerciseReport{}, err
	}
	counter, _ := item["counter"].(float64)
	return exerciseReport{
		ID:        idText,
		Workers:   workers,
		Attempts:  workers * attempts,
		Succeeded: succeeded.Load(),
		Contended: contended.Load(),
		Failed:    failed.Load(),
		Counter:   counter,
	}, nil
}

// newExerciseCommand races workers over one shared item and reports how the
// attempts split between successful rounds, lost lock races, and failures.
func newExerciseCommand(baseLogger pslog.Logger) *cobra.Command {
	var workers, attempts int
	cmd := &cobra.Command{
		Use:   "exercise",
		Short: "race workers over one shared item and report contention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithStore(cmd, baseLogger, func(ctx context.Context, store *textStore) error {
				report, err := runExercise(ctx, store, workers, attempts)
				if err != nil {
					return err
				}
				return printJSON(report)
			})
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 4, "concurrent workers racing for the lock")
	cmd.Flags().IntVar(&attempts, "attempts", 25, "lock attempts per worker")
	return cmd
}
