package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/johnid/internal/bootstrap"
	"github.com/dropDatabas3/johnid/internal/claims"
	"github.com/dropDatabas3/johnid/internal/services/session"
)

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Aplica las migraciones del store configurado",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.container.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			return c.print(res, fmt.Sprintf("applied=%v skipped=%d", res.Applied, len(res.Skipped)))
		},
	}
}

func (c *cli) signUpCmd() *cobra.Command {
	var (
		in          session.SignUp
		claimsFlag  []string
		interactive bool
	)
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Crea un usuario local con password",
		RunE: func(cmd *cobra.Command, args []string) error {
			cs, err := parseClaims(claimsFlag)
			if err != nil {
				return err
			}
			in.Claims = cs
			if interactive {
				u, err := bootstrap.NewTerminalPrompter().SignUp(cmd.Context(), c.container.Session, in)
				if err != nil {
					return err
				}
				return c.print(u, u.ID)
			}
			u, err := c.container.Session.SignUp(cmd.Context(), in)
			if err != nil {
				return err
			}
			return c.print(u, u.ID)
		},
	}
	cmd.Flags().StringVar(&in.UserName, "username", "", "Nombre de usuario")
	cmd.Flags().StringVar(&in.Password, "password", "", "Password")
	cmd.Flags().StringVar(&in.Email, "email", "", "Email (opcional)")
	cmd.Flags().StringSliceVar(&in.Roles, "role", nil, "Roles a asignar además de los por defecto")
	cmd.Flags().StringSliceVar(&claimsFlag, "claim", nil, "Claims tipo=valor")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Pedir por terminal los datos que falten")
	return cmd
}

func (c *cli) signInCmd() *cobra.Command {
	var (
		in    session.Login
		admin bool
	)
	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Abre una sesión y muestra el access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if admin {
				at, err := c.container.Session.SignInAdmin(cmd.Context(), in.UserName, in.Password)
				if err != nil {
					return err
				}
				return c.print(at, at.Token)
			}
			at, err := c.container.Session.SignIn(cmd.Context(), in)
			if err != nil {
				return err
			}
			return c.print(at, at.Token)
		},
	}
	cmd.Flags().StringVar(&in.UserName, "username", "", "Nombre de usuario")
	cmd.Flags().StringVar(&in.Password, "password", "", "Password")
	cmd.Flags().StringVar(&in.AppID, "app", "", "appId de la sesión (default \"Default\")")
	cmd.Flags().BoolVar(&in.Refreshable, "refreshable", false, "Emitir también un refresh token")
	cmd.Flags().BoolVar(&admin, "admin", false, "Autenticar contra el usuario admin configurado")
	return cmd
}

func (c *cli) refreshCmd() *cobra.Command {
	var in session.LoginRefresh
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Canjea access + refresh token por una sesión nueva",
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := c.container.Session.Refresh(cmd.Context(), in)
			if err != nil {
				return err
			}
			return c.print(at, "")
		},
	}
	cmd.Flags().StringVar(&in.Token, "token", "", "Access token (puede estar vencido)")
	cmd.Flags().StringVar(&in.RefreshToken, "refresh-token", "", "Refresh token")
	return cmd
}

func (c *cli) rolesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "roles", Short: "Administración de roles", PersistentPreRunE: c.openWithStore}

	list := &cobra.Command{
		Use:   "list",
		Short: "Lista los roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			roles, err := c.container.Admin.ListRoles(cmd.Context())
			if err != nil {
				return err
			}
			names := make([]string, 0, len(roles))
			for _, r := range roles {
				names = append(names, r.Name)
			}
			return c.print(roles, strings.Join(names, "\n"))
		},
	}
	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Crea un rol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := c.container.Admin.CreateRole(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.print(r, r.ID)
		},
	}
	del := &cobra.Command{
		Use:   "delete NAME",
		Short: "Borra un rol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.container.Admin.DeleteRole(cmd.Context(), args[0])
		},
	}
	var userName string
	assign := &cobra.Command{
		Use:   "assign ROLE...",
		Short: "Asigna roles a un usuario",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := c.container.Credentials.FindByName(cmd.Context(), userName)
			if err != nil {
				return fmt.Errorf("user %q: %w", userName, err)
			}
			return c.container.Admin.AddUserToRoles(cmd.Context(), u.ID, args...)
		},
	}
	assign.Flags().StringVar(&userName, "username", "", "Usuario destino")
	_ = assign.MarkFlagRequired("username")

	cmd.AddCommand(list, create, del, assign)
	return cmd
}

func (c *cli) claimsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "claims", Short: "Claims de usuarios y roles", PersistentPreRunE: c.openWithStore}

	var userName, roleName string
	list := &cobra.Command{
		Use:   "list",
		Short: "Lista los claims de un usuario (--username) o de un rol (--role)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				cs  []claims.Claim
				err error
			)
			switch {
			case userName != "":
				u, ferr := c.container.Credentials.FindByName(cmd.Context(), userName)
				if ferr != nil {
					return fmt.Errorf("user %q: %w", userName, ferr)
				}
				cs, err = c.container.Admin.UserClaims(cmd.Context(), u.ID)
			case roleName != "":
				cs, err = c.container.Admin.RoleClaims(cmd.Context(), roleName)
			default:
				return fmt.Errorf("--username o --role es requerido")
			}
			if err != nil {
				return err
			}
			lines := make([]string, 0, len(cs))
			for _, cl := range cs {
				lines = append(lines, cl.String())
			}
			return c.print(cs, strings.Join(lines, "\n"))
		},
	}
	add := &cobra.Command{
		Use:   "add TYPE=VALUE...",
		Short: "Agrega claims a un usuario (--username) o a un rol (--role)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cs, err := parseClaims(args)
			if err != nil {
				return err
			}
			switch {
			case userName != "":
				u, err := c.container.Credentials.FindByName(cmd.Context(), userName)
				if err != nil {
					return fmt.Errorf("user %q: %w", userName, err)
				}
				return c.container.Admin.AddUserClaims(cmd.Context(), u.ID, cs...)
			case roleName != "":
				return c.container.Admin.AddRoleClaims(cmd.Context(), roleName, cs...)
			default:
				return fmt.Errorf("--username o --role es requerido")
			}
		},
	}
	for _, sub := range []*cobra.Command{list, add} {
		sub.Flags().StringVar(&userName, "username", "", "Usuario")
		sub.Flags().StringVar(&roleName, "role", "", "Rol")
	}
	cmd.AddCommand(list, add)
	return cmd
}

// parseClaims lee "tipo=valor".
func parseClaims(in []string) ([]claims.Claim, error) {
	out := make([]claims.Claim, 0, len(in))
	for _, s := range in {
		typ, val, ok := strings.Cut(s, "=")
		if !ok || strings.TrimSpace(typ) == "" {
			return nil, fmt.Errorf("claim %q: expected type=value", s)
		}
		out = append(out, claims.New(strings.TrimSpace(typ), strings.TrimSpace(val)))
	}
	return out, nil
}
