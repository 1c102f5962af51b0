package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	sserr "github.com/StricklySoft/authcenter-go/pkg/errors"
)

type keyView struct {
	KeyID     string `json:"kid"`
	KeyType   string `json:"kty"`
	Algorithm string `json:"alg,omitempty"`
	Use       string `json:"use,omitempty"`
}

type keysView struct {
	URL       string    `json:"url"`
	FetchedAt time.Time `json:"fetched_at"`
	Keys      []keyView `json:"keys"`
}

func newKeysCmd(o *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "Fetch the key set and list its keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := o.context(cmd)
			defer cancel()

			client, err := o.newClient(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer client.Close()

			set, err := client.Keys().Get(ctx)
			if err != nil {
				return err
			}

			view := keysView{URL: client.Keys().URL(), FetchedAt: set.FetchedAt().UTC(), Keys: []keyView{}}
			for _, k := range set.Keys() {
				view.Keys = append(view.Keys, keyView{KeyID: k.KeyID, KeyType: k.KeyType, Algorithm: k.Algorithm, Use: k.Use})
			}

			out := cmd.OutOrStdout()
			if o.output == "json" {
				return writeJSON(out, view)
			}
			fmt.Fprintf(out, "%s (fetched %s)\n", view.URL, view.FetchedAt.Format(time.RFC3339))
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KID\tKTY\tALG\tUSE")
			for _, k := range view.Keys {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", dash(k.KeyID), k.KeyType, dash(k.Algorithm), dash(k.Use))
			}
			return tw.Flush()
		},
	}
}

type claimsView struct {
	Subject     string    `json:"sub"`
	Issuer      string    `json:"iss"`
	Name        string    `json:"name,omitempty"`
	Email       string    `json:"email,omitempty"`
	ExpiresAt   time.Time `json:"exp"`
	SuperAdmin  bool      `json:"super_admin,omitempty"`
	Project     string    `json:"project"`
	Role        string    `json:"role,omitempty"`
	Permissions []string  `json:"permissions"`
}

func newVerifyCmd(o *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [token|-]",
		Short: "Verify a token and print its claims for the configured project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readToken(cmd, args)
			if err != nil {
				return err
			}
			ctx, cancel := o.context(cmd)
			defer cancel()

			client, err := o.newClient(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer client.Close()

			claims, err := client.Verify(ctx, raw)
			if err != nil {
				return err
			}

			ev := client.Evaluator()
			role, _ := ev.Role(claims)
			view := claimsView{
				Subject:     claims.Subject,
				Issuer:      claims.Issuer,
				Name:        claims.Name,
				Email:       claims.Email,
				ExpiresAt:   claims.ExpiresAt.UTC(),
				SuperAdmin:  claims.SuperAdmin,
				Project:     ev.Project(),
				Role:        role,
				Permissions: ev.Permissions(claims),
			}

			out := cmd.OutOrStdout()
			if o.output == "json" {
				return writeJSON(out, view)
			}
			writeClaims(out, view)
			return nil
		},
	}
}

type decisionView struct {
	Authorized bool     `json:"authorized"`
	Subject    string   `json:"sub,omitempty"`
	Reason     string   `json:"reason,omitempty"`
	Code       string   `json:"code,omitempty"`
	DecisionID string   `json:"decision_id,omitempty"`
	Missing    []string `json:"missing,omitempty"`
}

func newCheckCmd(o *globalOptions) *cobra.Command {
	var permissions []string
	var anyOf bool

	cmd := &cobra.Command{
		Use:   "check [token|-]",
		Short: "Check a token against required permissions",
		Long: "Check runs the same decision as the HTTP middleware. It exits 0 when\n" +
			"authorized, 2 when the token is rejected and 3 when permissions are missing.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readToken(cmd, args)
			if err != nil {
				return err
			}
			ctx, cancel := o.context(cmd)
			defer cancel()

			client, err := o.newClient(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer client.Close()

			g := client.Gate()
			outcome := g.RequirePermissions(ctx, raw, permissions...)
			if anyOf && outcome.Caller() != nil && g.Evaluator().HasAnyPermission(outcome.Caller(), permissions...) {
				outcome = g.RequireAuth(ctx, raw)
			}

			view := decisionView{
				Authorized: outcome.Authorized(),
				Reason:     string(outcome.Reason),
				Code:       string(sserr.GetCode(outcome.Err())),
				DecisionID: outcome.DecisionID,
				Missing:    outcome.Missing,
			}
			if caller := outcome.Caller(); caller != nil {
				view.Subject = caller.Subject
			}

			out := cmd.OutOrStdout()
			if o.output == "json" {
				if err := writeJSON(out, view); err != nil {
					return err
				}
			} else {
				writeDecision(out, view)
			}
			return outcome.Err()
		},
	}
	cmd.Flags().StringArrayVarP(&permissions, "permission", "p", nil, "required permission (repeatable)")
	cmd.Flags().BoolVar(&anyOf, "any", false, "require any one of the permissions instead of all")
	return cmd
}

func writeClaims(w io.Writer, v claimsView) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "subject\t%s\n", v.Subject)
	fmt.Fprintf(tw, "issuer\t%s\n", v.Issuer)
	if v.Name != "" {
		fmt.Fprintf(tw, "name\t%s\n", v.Name)
	}
	if v.Email != "" {
		fmt.Fprintf(tw, "email\t%s\n", v.Email)
	}
	fmt.Fprintf(tw, "expires\t%s\n", v.ExpiresAt.Format(time.RFC3339))
	if v.SuperAdmin {
		fmt.Fprintln(tw, "super admin\tyes")
	}
	fmt.Fprintf(tw, "project\t%s\n", v.Project)
	fmt.Fprintf(tw, "role\t%s\n", dash(v.Role))
	fmt.Fprintf(tw, "permissions\t%s\n", dash(strings.Join(v.Permissions, ", ")))
	_ = tw.Flush()
}

func writeDecision(w io.Writer, v decisionView) {
	if v.Authorized {
		fmt.Fprintf(w, "authorized: %s\n", v.Subject)
		return
	}
	fmt.Fprintf(w, "%s (%s) decision_id=%s\n", v.Reason, v.Code, v.DecisionID)
	if len(v.Missing) > 0 {
		fmt.Fprintf(w, "missing: %s\n", strings.Join(v.Missing, ", "))
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
