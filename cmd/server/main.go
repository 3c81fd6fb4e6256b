package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/spokplacenta/rfb-html5/internal/config"
	"github.com/spokplacenta/rfb-html5/internal/handler"
	"github.com/spokplacenta/rfb-html5/internal/logging"
)

const (
	appName    = "RFB HTML5 Client"
	appVersion = "v1.0.0"
)

func main() {
	hostFlag := flag.String("host", "", "gateway listen host")
	portFlag := flag.String("port", "", "gateway listen port")
	logLevelFlag := flag.String("log-level", "", "log level (debug, info, warn, error)")
	configFlag := flag.String("config", "", "path to YAML config file")
	helpFlag := flag.Bool("help", false, "show help")
	versionFlag := flag.Bool("version", false, "show version")

	flag.Parse()

	if *helpFlag {
		showHelp()
		return
	}

	if *versionFlag {
		showVersion()
		return
	}

	opts := config.LoadOptions{
		Host:       strings.TrimSpace(*hostFlag),
		Port:       strings.TrimSpace(*portFlag),
		LogLevel:   strings.TrimSpace(*logLevelFlag),
		ConfigFile: strings.TrimSpace(*configFlag),
	}

	cfg, err := config.LoadWithOverrides(opts)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logging.SetLevelFromString(cfg.Logging.Level)

	server := createServer(cfg)
	logging.Info("starting server on %s:%s", cfg.Server.Host, cfg.Server.Port)

	if err := startServer(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalln(err)
	}
}

func createServer(cfg *config.Config) *http.Server {
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.Dir("./web")))
	mux.HandleFunc("/connect", handler.Connect)

	h := securityHeadersMiddleware(corsMiddleware(mux, cfg.Security.AllowedOrigins))
	h = requestLoggingMiddleware(h)

	return &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		// Allow inline scripts/styles for the single-page UI
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; connect-src 'self' ws: wss:")

		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler, allowedOrigins []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if isOriginAllowed(origin, allowedOrigins, r.Host) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func isOriginAllowed(origin string, allowedOrigins []string, host string) bool {
	if origin == "" {
		return false
	}

	for _, allowed := range allowedOrigins {
		if strings.TrimSpace(allowed) == origin {
			return true
		}
	}

	if len(allowedOrigins) == 0 {
		return strings.Contains(origin, host)
	}

	return false
}

func requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.Debug("%s %s %s %s", r.RemoteAddr, r.Method, r.URL.Path, time.Since(start))
	})
}

func startServer(server *http.Server) error {
	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

func showHelp() {
	fmt.Println(appName)
	fmt.Println("USAGE: rfb-html5 [options]")
	fmt.Println("OPTIONS:")
	fmt.Println("  -host        Set server listen host (default 0.0.0.0)")
	fmt.Println("  -port        Set server listen port (default 8080)")
	fmt.Println("  -log-level   Set log level (debug, info, warn, error)")
	fmt.Println("  -config      Path to YAML config file")
	fmt.Println("  -version     Show version information")
	fmt.Println("  -help        Show this help message")
	fmt.Println("ENVIRONMENT VARIABLES: SERVER_HOST, SERVER_PORT, LOG_LEVEL, ALLOWED_ORIGINS, VNC_UPDATE_TIMEOUT")
	fmt.Println("EXAMPLES: rfb-html5 -host 0.0.0.0 -port 8080")
}

func showVersion() {
	fmt.Printf("%s %s\n", appName, appVersion)
	fmt.Println("Protocol: RFB 3.8 (RFC 6143)")
}
