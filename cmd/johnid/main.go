package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/johnid/internal/app"
	"github.com/dropDatabas3/johnid/internal/config"
	"github.com/dropDatabas3/johnid/internal/observability/logger"
)

// version se pisa con -ldflags "-X main.version=..."
var version = "dev"

type cli struct {
	configPath string
	out        string // "json" | "text"

	container *app.Container
}

const longHelp = `Operaciones sobre el core de identidad (usuarios, sesiones, roles, claims).

Con storage.driver=memory los datos viven solo durante una invocación;
usar sqlite o postgres para persistir entre comandos.`

func main() {
	_ = godotenv.Load(".env")     // base
	_ = godotenv.Load(".env.dev") // dev overrides

	c := &cli{configPath: envOr("JOHNID_CONFIG", ""), out: envOr("JOHNID_OUT", "text")}
	root := &cobra.Command{
		Use:           "johnid",
		Short:         "Operaciones sobre el core de identidad (usuarios, sesiones, roles, claims)",
		Long:          longHelp,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.open(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.container == nil {
				return nil
			}
			return c.container.Close()
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", c.configPath, "Ruta al config.yaml (env JOHNID_CONFIG)")
	root.PersistentFlags().StringVar(&c.out, "out", c.out, "Formato de salida: json|text")

	root.AddCommand(
		c.migrateCmd(),
		c.signUpCmd(),
		c.signInCmd(),
		c.refreshCmd(),
		c.rolesCmd(),
		c.claimsCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err := root.ExecuteContext(ctx)
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func (c *cli) open(ctx context.Context) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	cfg.Log.Version = version
	logger.Init(cfg.Log)
	c.container, err = app.New(ctx, cfg, app.Deps{})
	return err
}

// openWithStore es el PersistentPreRunE de los comandos que administran
// datos del store (roles, claims).
func (c *cli) openWithStore(cmd *cobra.Command, args []string) error {
	if err := c.open(cmd.Context()); err != nil {
		return err
	}
	if c.container.Credentials == nil {
		return fmt.Errorf("%s: requires a credential store (storage.driver is %q)", cmd.CommandPath(), config.DriverNone)
	}
	return nil
}

// print escribe v como JSON indentado, o text si out == "text" y text != "".
func (c *cli) print(v any, text string) error {
	if c.out == "text" && text != "" {
		fmt.Println(text)
		return nil
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
