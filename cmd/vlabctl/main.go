package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	_ "github.com/jimmicro/version"
	"github.com/jimyag/vlab/internal/vlab/entity"
	"github.com/spf13/cobra"
)

var (
	serverURL string
	timeout   time.Duration
	jsonOut   bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(out io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "vlabctl",
		Short:         "Command line client for the vlab node manager",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(out)

	defaultURL := os.Getenv("VLAB_URL")
	if defaultURL == "" {
		defaultURL = "http://127.0.0.1:7777"
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultURL, "vlab server URL (or VLAB_URL)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "request timeout")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "print raw JSON")

	rootCmd.AddCommand(
		newListCommand(),
		newGetCommand(),
		newCreateCommand(),
		newActionCommand("run", "Start a node"),
		newActionCommand("stop", "Stop a node"),
		newActionCommand("wipe", "Reset a node's disk to its base image"),
		newDeleteCommand(),
		newConsoleCommand(),
		newImagesCommand(),
	)
	return rootCmd
}

func apiClient() *client {
	return newClient(serverURL, timeout)
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List nodes",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			nodes, err := apiClient().listNodes(cmd.Context())
			if err != nil {
				return err
			}
			return printNodes(cmd.OutOrStdout(), nodes)
		},
	}
}

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get NODE_ID",
		Short: "Show a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			node, err := apiClient().getNode(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printNodes(cmd.OutOrStdout(), []entity.Node{*node})
		},
	}
}

func newCreateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create BASE_IMAGE",
		Short: "Create a stopped node backed by a base image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			node, err := apiClient().createNode(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printNodes(cmd.OutOrStdout(), []entity.Node{*node})
		},
	}
}

func newActionCommand(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " NODE_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			node, err := apiClient().nodeAction(cmd.Context(), args[0], action)
			if err != nil {
				return err
			}
			return printNodes(cmd.OutOrStdout(), []entity.Node{*node})
		},
	}
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "delete NODE_ID",
		Aliases: []string{"rm"},
		Short:   "Delete a node and its disk",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := apiClient().deleteNode(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func newConsoleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "console NODE_ID",
		Short: "Print a remote console URL for a running node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := apiClient().consoleURL(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), u)
			return nil
		},
	}
}

func newImagesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "images",
		Short: "List base images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			images, err := apiClient().listImages(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return printJSON(out, images)
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSIZE\tPATH")
			for _, img := range images {
				fmt.Fprintf(w, "%s\t%d\t%s\n", img.Name, img.SizeBytes, img.Path)
			}
			return w.Flush()
		},
	}
}

func printNodes(out io.Writer, nodes []entity.Node) error {
	if jsonOut {
		return printJSON(out, nodes)
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPID\tVNC\tBASE IMAGE\tCONSOLE")
	for _, n := range nodes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			n.ID, n.Status, intOrDash(n.PID), intOrDash(n.VNCPort), n.BaseImage, strOrDash(n.GuacamoleURL))
	}
	return w.Flush()
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func intOrDash(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(*v)
}

func strOrDash(v *string) string {
	if v == nil || *v == "" {
		return "-"
	}
	return *v
}
