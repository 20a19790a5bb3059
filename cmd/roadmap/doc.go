package main

import (
	"fmt"
	"io"
	"os"

	"github.com/roadmap-manager/roadmap/internal/document"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newDocCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doc",
		Short: "Read and edit the roadmap document",
	}

	cmd.AddCommand(newDocReadCmd())
	cmd.AddCommand(newDocWriteCmd())
	cmd.AddCommand(newDocToggleCmd())
	cmd.AddCommand(newDocPathCmd())
	return cmd
}

func openDocument(configPath string) (*document.Store, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return document.New(cfg.DocumentPath()), nil
}

func newDocReadCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Print the roadmap document",
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := openDocument(configPath)
			if err != nil {
				return err
			}
			content, err := doc.Read()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), content)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newDocWriteCmd() *cobra.Command {
	var (
		configPath string
		file       string
	)

	cmd := &cobra.Command{
		Use:   "write",
		Short: "Replace the roadmap document from a file or stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := openDocument(configPath)
			if err != nil {
				return err
			}
			content, err := readDocInput(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			if err := doc.Write(content); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bytes to %s\n", len(content), doc.Path())
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&file, "file", "f", "", "read content from this file instead of stdin")
	return cmd
}

// readDocInput reads the new document from file, or from in when it is
// piped. An interactive terminal is refused rather than waited on.
func readDocInput(in io.Reader, file string) (string, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", file, err)
		}
		return string(data), nil
	}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "", fmt.Errorf("no input: pipe the document on stdin or pass --file")
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}

func newDocToggleCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "toggle <subtask-id>",
		Short: "Mark a subtask checkbox as done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := openDocument(configPath)
			if err != nil {
				return err
			}
			changed, err := doc.ToggleSubtask(args[0])
			if err != nil {
				return err
			}
			if changed {
				fmt.Fprintf(cmd.OutOrStdout(), "Subtask %s marked done\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Subtask %s: no open checkbox found\n", args[0])
			}
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newDocPathCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "path",
		Short: "Print the roadmap document location",
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := openDocument(configPath)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), doc.Path())
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}
