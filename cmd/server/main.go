package main

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/prernalabs/carepoints/internal/api"
	"github.com/prernalabs/carepoints/internal/db"
	"github.com/prernalabs/carepoints/internal/identity"
	"github.com/prernalabs/carepoints/internal/middleware"
	"github.com/prernalabs/carepoints/internal/utils"
)

func main() {
	_ = godotenv.Load()
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	addr := utils.SafeEnv("CAREPOINTS_ADDR", ":8080")
	commit := os.Getenv("CAREPOINTS_COMMIT")
	buildTime := os.Getenv("CAREPOINTS_BUILD_TIME")

	store, err := openStore(log)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}

	mux := http.NewServeMux()
	provider := identity.NewDevProvider(log)
	api.NewRouter(store, provider, log).Register(mux)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":         true,
			"name":       "CarePoints API",
			"commit":     commit,
			"build_time": buildTime,
		})
	})

	// Static frontend when bundled into the image.
	if staticDir := os.Getenv("CAREPOINTS_STATIC_DIR"); staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	}

	handler := middleware.NoStore(middleware.SecureHeaders(middleware.CORS(middleware.WithAuth(mux))))

	log.Info().Str("addr", addr).Msg("server listening")
	if err := http.ListenAndServe(addr, handler); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

// openStore selects the backing store: SQLite by default, in-memory when
// CAREPOINTS_STORE=memory.
func openStore(log zerolog.Logger) (api.Store, error) {
	if utils.SafeEnv("CAREPOINTS_STORE", "sqlite") == "memory" {
		log.Warn().Msg("using in-memory store, data is lost on restart")
		return api.NewMemoryStore(), nil
	}
	path := utils.SafeEnv("CAREPOINTS_DB_PATH", "carepoints.db")
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(conn, os.Getenv("CAREPOINTS_MIGRATIONS_DIR")); err != nil {
		return nil, err
	}
	return db.NewStore(conn)
}
