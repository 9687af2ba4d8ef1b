package main

import (
	"github.com/spf13/cobra"

	"github.com/tonimelisma/lapse-go/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a commented default config file if none exists",
		Args:  cobra.NoArgs,
		RunE:  runConfigInit,
	}
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if cc.Flags.JSON {
		return printJSON(cmd.OutOrStdout(), cc.Cfg)
	}

	return config.RenderEffective(cc.Cfg, cmd.OutOrStdout())
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	created, err := config.CreateDefault(cc.Cfg.Path, cc.Logger)
	if err != nil {
		return err
	}

	if created {
		cc.Statusf("Created config file %s\n", cc.Cfg.Path)
	} else {
		cc.Statusf("Config file %s already exists.\n", cc.Cfg.Path)
	}

	return nil
}
