package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/cuemby/adcm/pkg/catalog"
	"github.com/cuemby/adcm/pkg/storage"
	"github.com/cuemby/adcm/pkg/types"
	"github.com/spf13/cobra"
)

var bundleCmd = &cobra.Command{
	Use:   "bundle",
	Short: "Manage bundles",
}

var bundleLoadCmd = &cobra.Command{
	Use:   "load DIR",
	Short: "Load a bundle directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		accept, _ := cmd.Flags().GetBool("accept-license")
		_, m, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer m.Close()

		fmt.Printf("Loading bundle: %s\n", args[0])
		b, err := m.LoadBundle(args[0])
		if err != nil {
			return err
		}
		if accept && b.License == types.LicenseUnaccepted {
			if err := m.Store().Update(func(tx *storage.Tx) error { return catalog.AcceptLicense(tx, b.ID) }); err != nil {
				return err
			}
			b.License = types.LicenseAccepted
		}
		fmt.Printf("✓ Bundle loaded: %s %s (ID: %d, license: %s)\n", b.Name, b.Version, b.ID, b.License)
		return nil
	},
}

var bundleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List loaded bundles",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, m, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer m.Close()

		var bundles []*types.Bundle
		if err := m.Store().View(func(tx *storage.Tx) error {
			var err error
			bundles, err = storage.Bundles.List(tx, nil)
			return err
		}); err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tVERSION\tEDITION\tLICENSE")
		for _, b := range bundles {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", b.ID, b.Name, b.Version, b.Edition, b.License)
		}
		return w.Flush()
	},
}

var bundleLicenseCmd = &cobra.Command{
	Use:   "accept-license ID",
	Short: "Accept the license of a bundle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid bundle id %q", args[0])
		}
		_, m, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer m.Close()

		if err := m.Store().Update(func(tx *storage.Tx) error { return catalog.AcceptLicense(tx, id) }); err != nil {
			return err
		}
		fmt.Printf("✓ License accepted: bundle %d\n", id)
		return nil
	},
}

var bundleDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a bundle no object uses",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid bundle id %q", args[0])
		}
		_, m, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer m.Close()

		if err := m.DeleteBundle(id); err != nil {
			return err
		}
		fmt.Printf("✓ Bundle deleted: %d\n", id)
		return nil
	},
}

func init() {
	bundleCmd.AddCommand(bundleLoadCmd)
	bundleCmd.AddCommand(bundleListCmd)
	bundleCmd.AddCommand(bundleLicenseCmd)
	bundleCmd.AddCommand(bundleDeleteCmd)

	bundleLoadCmd.Flags().Bool("accept-license", false, "Accept the bundle license after loading")
}
