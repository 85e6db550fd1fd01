package cli

import (
	"fmt"
	"io"
	"time"

	"claw-companion/backend/pkg/config"
	"claw-companion/backend/pkg/jwt"
	"claw-companion/backend/pkg/logger"
	"claw-companion/backend/pkg/secrets"

	"github.com/spf13/cobra"
)

// NewTokenCommand mints a bearer token signed with the daemon's secret.
func NewTokenCommand(opts *RootOptions) *cobra.Command {
	var (
		role    string
		owner   string
		subject string
		expiry  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the API",
		Long: `Mint a token signed with JWT_SECRET (or the jwt_secret vault key).

An --owner scopes the token to one dashboard; without it the token may
edit any owner's dashboard.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r := jwt.Role(role)
			if !r.Valid() {
				return fmt.Errorf("invalid --role %q: must be human or agent", role)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			mgr, err := secrets.NewManager(secrets.VaultConfigFromEnv(), logger.Nop())
			if err != nil {
				return err
			}
			secret := mgr.GetSecretWithDefault(cmd.Context(), jwt.SecretName, cfg.Auth.Secret)
			if expiry <= 0 {
				expiry = cfg.Auth.Expiry
			}

			token, err := jwt.NewService(secret, expiry).GenerateToken(subject, r, owner)
			if err != nil {
				return err
			}
			out := map[string]string{"token": token}
			return emit(cmd, opts, out, func(w io.Writer) {
				printf(w, "%s\n", token)
			})
		},
	}

	cmd.Flags().StringVar(&role, "role", string(jwt.RoleHuman), "writer role (human|agent)")
	cmd.Flags().StringVar(&owner, "owner", "", "restrict the token to one dashboard owner")
	cmd.Flags().StringVar(&subject, "subject", "clawctl", "token subject")
	cmd.Flags().DurationVar(&expiry, "expiry", 0, "token lifetime (defaults to JWT_EXPIRY)")
	return cmd
}
