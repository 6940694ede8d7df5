package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"conventions/internal/catalog"
	"conventions/internal/domain"
	"conventions/internal/engine"
)

// conventionFile is the JSON accepted by `convention create --file`.
type conventionFile struct {
	domain.Convention
	Periods []domain.StagePeriod `json:"periods"`
}

func readConventionFile(path string) (conventionFile, error) {
	var in conventionFile
	data, err := os.ReadFile(path)
	if err != nil {
		return in, err
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return in, fmt.Errorf("parse %s: %w", path, err)
	}
	return in, nil
}

func conventionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "convention",
		Aliases: []string{"conv"},
		Short:   "Manage conventions",
	}
	cmd.AddCommand(conventionListCmd())
	cmd.AddCommand(conventionShowCmd())
	cmd.AddCommand(conventionCreateCmd())
	cmd.AddCommand(conventionUpdateCmd())
	cmd.AddCommand(conventionSubmitCmd())
	cmd.AddCommand(conventionDeleteCmd())
	return cmd
}

func addFilterFlags(cmd *cobra.Command, f *catalog.Filters) {
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter (draft, pending_signatures, ready_to_print, all)")
	cmd.Flags().StringVar(&f.Class, "class", "", "class filter")
	cmd.Flags().StringVar(&f.Type, "type", "", "convention type filter")
	cmd.Flags().StringVar(&f.Search, "search", "", "search student, company or SIREN")
}

func conventionListCmd() *cobra.Command {
	var f catalog.Filters
	var owner string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conventions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListConventions(ctx, engine.ListOptions{Filters: f, CreatedBy: owner})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Student", "Class", "Company", "Type", "Status", "Minor"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.StudentName(), c.Student.Class, c.Company.Name, c.ConventionType, c.Status, c.IsMinor})
				}
				tw.Render()
				return nil
			})
		},
	}
	addFilterFlags(cmd, &f)
	cmd.Flags().StringVar(&owner, "created-by", "", "only conventions created by this actor")
	return cmd
}

func conventionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a convention with its periods and signatures",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.GetConvention(ctx, args[0])
				if err != nil {
					return err
				}
				periods, err := e.ListPeriods(ctx, c.ID)
				if err != nil {
					return err
				}
				sigs, err := e.ListSignatures(ctx, c.ID)
				if err != nil {
					return err
				}
				for i := range sigs {
					sigs[i].SignatureData = ""
				}
				return printJSONOrTable(map[string]any{
					"convention": c,
					"periods":    periods,
					"signatures": sigs,
					"title":      catalog.Title(e.Config, c.ConventionType),
					"code":       catalog.Code(e.Config, c.ConventionType),
				})
			})
		},
	}
}

func conventionCreateCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft convention from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := readConventionFile(filePath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, periods, err := e.CreateConvention(ctx, engine.CreateConventionInput{
					Convention: in.Convention,
					Periods:    in.Periods,
					ActorID:    viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"convention": c, "periods": periods})
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to the convention JSON")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func conventionUpdateCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Replace the fields of a draft convention",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := readConventionFile(filePath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.UpdateConvention(ctx, engine.UpdateConventionInput{
					ID:         args[0],
					Convention: in.Convention,
					Periods:    in.Periods,
					ActorID:    viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to the convention JSON")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func conventionSubmitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <id>",
		Short: "Open signature collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.SubmitConvention(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

func conventionDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a convention with its periods and signatures",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteConvention(ctx, args[0], viper.GetString("actor-id")); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"deleted": args[0]})
				}
				fmt.Printf("Deleted convention %s\n", args[0])
				return nil
			})
		},
	}
}

// signatureImage turns a PNG file into the data URL stored with a signature.
func signatureImage(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if ct := http.DetectContentType(data); ct != "image/png" {
		return "", fmt.Errorf("%s: expected a PNG image, got %s", path, ct)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data), nil
}

func signCmd() *cobra.Command {
	var role, name, email, imageFile string
	cmd := &cobra.Command{
		Use:   "sign <convention-id>",
		Short: "Record a signature (scanned paper signature or tablet capture)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := signatureImage(imageFile)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.SubmitSignature(ctx, engine.SubmitSignatureRequest{
					ConventionID: args[0],
					Role:         domain.SignerRole(role),
					SignerName:   name,
					SignerEmail:  email,
					Image:        img,
					UserAgent:    "conv-cli",
					ActorID:      viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"signature_id":   res.Signature.ID,
						"status":         res.Status,
						"status_changed": res.StatusChanged,
					})
				}
				fmt.Printf("Recorded %s signature on %s; status %s\n", res.Signature.SignerRole.Label(), args[0], res.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "signer role (student, parent, maitre_stage, responsable_classe, chef_etablissement)")
	cmd.Flags().StringVar(&name, "name", "", "signer full name")
	cmd.Flags().StringVar(&email, "email", "", "signer email")
	cmd.Flags().StringVar(&imageFile, "image-file", "", "PNG image of the signature")
	_ = cmd.MarkFlagRequired("role")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("image-file")
	return cmd
}

func eligibilityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "eligibility <convention-id>",
		Short: "Show which roles may sign now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				el, err := e.GetSigningEligibility(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(el)
				}
				tw := newTable(table.Row{"#", "Role", "Signed", "Can sign"})
				for i, r := range el.Sequence {
					tw.AppendRow(table.Row{i + 1, r.Label(), el.Signed[r], el.CanSign[r]})
				}
				tw.Render()
				fmt.Printf("Status: %s\n", el.Status)
				return nil
			})
		},
	}
}

func sequenceCmd() *cobra.Command {
	var minor bool
	cmd := &cobra.Command{
		Use:   "sequence",
		Short: "Print the required signing order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				seq := e.GetRequiredSequence(minor)
				if viper.GetBool("json") {
					return printJSON(seq)
				}
				labels := make([]string, 0, len(seq))
				for _, r := range seq {
					labels = append(labels, r.Label())
				}
				fmt.Println(strings.Join(labels, " -> "))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&minor, "minor", false, "student is a minor")
	return cmd
}

func documentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "document <convention-id>",
		Short: "Print the document bundle of a fully signed convention",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.DocumentBundle(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(b)
			})
		},
	}
}

func statsCmd() *cobra.Command {
	var f catalog.Filters
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Dashboard counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListConventions(ctx, engine.ListOptions{Filters: f})
				if err != nil {
					return err
				}
				s := catalog.ComputeStats(items)
				if viper.GetBool("json") {
					return printJSON(s)
				}
				tw := newTable(table.Row{"Total", "Draft", "Awaiting", "Ready to print", "Minors", "Ready %"})
				tw.AppendRow(table.Row{s.Total, s.DraftCount, s.AwaitingCount, s.ReadyToPrint, s.MinorCount, s.ReadyPct})
				tw.Render()
				return nil
			})
		},
	}
	addFilterFlags(cmd, &f)
	return cmd
}

func exportCmd() *cobra.Command {
	var f catalog.Filters
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export conventions as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListConventions(ctx, engine.ListOptions{Filters: f})
				if err != nil {
					return err
				}
				if out == "-" {
					return catalog.WriteCSV(os.Stdout, items)
				}
				if out == "" {
					out = catalog.ExportFilename(e.Now())
				}
				fh, err := os.Create(out)
				if err != nil {
					return err
				}
				if err := catalog.WriteCSV(fh, items); err != nil {
					fh.Close()
					return err
				}
				if err := fh.Close(); err != nil {
					return err
				}
				fmt.Printf("Exported %d conventions to %s\n", len(items), out)
				return nil
			})
		},
	}
	addFilterFlags(cmd, &f)
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (- for stdout)")
	return cmd
}
