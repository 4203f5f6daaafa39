package cmd

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/kvsearch/internal/async"
	"github.com/Aman-CERP/kvsearch/internal/command"
	"github.com/Aman-CERP/kvsearch/internal/config"
	kverrors "github.com/Aman-CERP/kvsearch/internal/errors"
	"github.com/Aman-CERP/kvsearch/internal/fanout"
	"github.com/Aman-CERP/kvsearch/internal/keyspace"
	"github.com/Aman-CERP/kvsearch/internal/logging"
	"github.com/Aman-CERP/kvsearch/internal/schema"
)

var (
	serveAddr  string
	configFile string
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":7700", "listen address")
	serveCmd.Flags().StringVar(&configFile, "config", "", "config file (flat YAML key: value)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a standalone search node",
	RunE: func(cmd *cobra.Command, args []string) error {
		if configFile != "" {
			if err := config.LoadFile(configFile); err != nil {
				return err
			}
		}
		cleanup, err := logging.SetupDefault()
		if err != nil {
			return err
		}
		defer cleanup()

		schemas := schema.NewManager()
		store := keyspace.NewMemory(schemas)
		pools := async.NewPools()
		defer pools.Stop()

		dispatcher := command.NewDispatcher(schemas, store)
		dispatcher.Pools = pools

		shardServer := &fanout.Server{Schemas: schemas, Log: slog.Default()}

		mux := http.NewServeMux()
		mux.Handle("/internal/", shardServer.Handler())
		mux.HandleFunc("POST /command", func(w http.ResponseWriter, r *http.Request) {
			var args []string
			if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			reply, err := dispatcher.Dispatch(r.Context(), args)
			w.Header().Set("Content-Type", "application/json")
			if err != nil {
				_ = json.NewEncoder(w).Encode(map[string]any{"error": err.Error()})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"reply": reply})
		})
		mux.HandleFunc("POST /keys", func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				Key    string            `json:"key"`
				Fields map[string]string `json:"fields"`
				Delete bool              `json:"delete"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if body.Delete {
				store.Del(0, body.Key)
			} else if err := store.HSet(0, body.Key, body.Fields); err != nil {
				http.Error(w, err.Error(), statusFor(err))
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})

		slog.Info("kvsearchd listening", "addr", serveAddr)
		return http.ListenAndServe(serveAddr, mux)
	},
}

func statusFor(err error) int {
	switch kverrors.KindOf(err) {
	case kverrors.KindInvalidArgument:
		return http.StatusBadRequest
	case kverrors.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
