// Command authcheck inspects an authority's key set and checks bearer
// tokens against it, using the same configuration as a resource server.
//
//	authcheck keys --jwks-url https://auth.example.com/.well-known/jwks.json --project p1
//	authcheck verify "$TOKEN"
//	authcheck check --permission doc:read --permission doc:write < token.txt
//
// Settings come from AUTHCENTER_* variables, an optional --config file and
// a .env file; flags override all of them.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/StricklySoft/authcenter-go/pkg/authcenter"
	"github.com/StricklySoft/authcenter-go/pkg/config"
	sserr "github.com/StricklySoft/authcenter-go/pkg/errors"
)

// Exit codes.
const (
	exitError           = 1
	exitUnauthenticated = 2
	exitForbidden       = 3
)

type globalOptions struct {
	configFile string
	envFile    string
	jwksURL    string
	project    string
	issuer     string
	output     string
	logLevel   string
	logFormat  string
	timeout    time.Duration
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "authcheck:", err)
		stop()
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	o := &globalOptions{}
	root := &cobra.Command{
		Use:           "authcheck",
		Short:         "Inspect JWKS key sets and check bearer tokens",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if o.output != "text" && o.output != "json" {
				return sserr.Newf(sserr.CodeValidation, "--output must be text or json, got %q", o.output)
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&o.configFile, "config", "", "YAML or JSON configuration file")
	flags.StringVar(&o.envFile, "env-file", ".env", "dotenv file with AUTHCENTER_* variables (missing file is ignored)")
	flags.StringVar(&o.jwksURL, "jwks-url", "", "JWKS URL (overrides AUTHCENTER_JWKS_URL)")
	flags.StringVar(&o.project, "project", "", "project ID (overrides AUTHCENTER_PROJECT_ID)")
	flags.StringVar(&o.issuer, "issuer", "", "expected token issuer (overrides AUTHCENTER_ISSUER)")
	flags.StringVarP(&o.output, "output", "o", "text", "output format: text|json")
	flags.StringVar(&o.logLevel, "log-level", "warn", "log level: debug|info|warn|error")
	flags.StringVar(&o.logFormat, "log-format", "dev", "log format: dev (console) or prod (JSON)")
	flags.DurationVar(&o.timeout, "timeout", 30*time.Second, "overall deadline for the command")

	root.AddCommand(newKeysCmd(o), newVerifyCmd(o), newCheckCmd(o))
	return root
}

// loadConfig resolves configuration with flag values layered over the
// environment.
func (o *globalOptions) loadConfig() (authcenter.Config, error) {
	overrides := map[string]string{}
	set := func(name, value string) {
		if value != "" {
			overrides[authcenter.EnvPrefix+"_"+name] = value
		}
	}
	set("JWKS_URL", o.jwksURL)
	set("PROJECT_ID", o.project)
	set("ISSUER", o.issuer)

	var cfg authcenter.Config
	err := config.New().
		WithEnvPrefix(authcenter.EnvPrefix).
		WithFile(o.configFile).
		WithDotEnv(o.envFile).
		WithLookup(func(key string) (string, bool) {
			if v, ok := overrides[key]; ok {
				return v, true
			}
			return os.LookupEnv(key)
		}).
		Load(&cfg)
	return cfg, err
}

// newClient loads configuration and builds a Client whose logs go to
// stderr.
func (o *globalOptions) newClient(ctx context.Context, stderr io.Writer) (*authcenter.Client, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	logger := buildLogger(o.logLevel, o.logFormat, stderr)
	return authcenter.New(ctx, cfg, authcenter.WithLogger(logger))
}

func (o *globalOptions) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), o.timeout)
}

func buildLogger(level, format string, w io.Writer) *zap.Logger {
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = zapcore.WarnLevel
	}

	var enc zapcore.Encoder
	if strings.EqualFold(format, "prod") {
		ec := zap.NewProductionEncoderConfig()
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(ec)
	} else {
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		enc = zapcore.NewConsoleEncoder(ec)
	}
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(w), lvl))
}

// readToken returns args[0], or the first line of stdin when no argument
// is given or the argument is "-".
func readToken(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 && args[0] != "-" {
		return strings.TrimSpace(args[0]), nil
	}
	data, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), 64<<10))
	if err != nil {
		return "", sserr.Wrap(err, sserr.CodeInternal, "failed to read token from stdin")
	}
	raw, _, _ := strings.Cut(strings.TrimSpace(string(data)), "\n")
	if raw == "" {
		return "", sserr.New(sserr.CodeValidationRequired, "no token given (pass it as an argument or on stdin)")
	}
	return strings.TrimSpace(raw), nil
}

func exitCode(err error) int {
	switch {
	case sserr.IsAuthentication(err):
		return exitUnauthenticated
	case sserr.IsAuthorization(err):
		return exitForbidden
	default:
		return exitError
	}
}
