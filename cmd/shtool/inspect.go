package main

import (
	"fmt"
	"os"

	"github.com/colorfulnotion/openfa/sh"
	"github.com/colorfulnotion/openfa/shape"
	"github.com/colorfulnotion/openfa/x86"
	"github.com/spf13/cobra"
)

func newDumpCmd() *cobra.Command {
	var asTree, asJSON, asHex bool
	cmd := &cobra.Command{
		Use:   "dump FILE",
		Short: "List the records of a shape",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadShape(args[0])
			if s == nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch {
			case asJSON:
				data, jerr := sh.MarshalRecords(s.Records)
				if jerr != nil {
					return jerr
				}
				fmt.Fprintln(out, string(data))
			case asTree:
				fmt.Fprint(out, s.Tree(shapeName(args[0])).String())
			case asHex:
				fmt.Fprint(out, sh.HexDump(s.Image.Code, 0, len(s.Image.Code), s.Image.Annotations(), -1, color()))
			default:
				fmt.Fprint(out, s.Listing())
			}
			if err != nil {
				fmt.Fprint(out, s.FailureContext(color()))
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&asTree, "tree", false, "group facets under their texture")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit the golden JSON form")
	cmd.Flags().BoolVar(&asHex, "hex", false, "hex dump the code section with relocations highlighted")
	cmd.MarkFlagsMutuallyExclusive("tree", "json", "hex")
	return cmd
}

func newDisasmCmd() *cobra.Command {
	var verify bool
	cmd := &cobra.Command{
		Use:   "disasm FILE",
		Short: "Disassemble the x86 fragments of a shape",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadShape(args[0])
			if s == nil {
				return err
			}
			out := cmd.OutOrStdout()
			mismatches := 0
			for _, i := range s.X86Blocks() {
				x := s.Records[i].(*sh.X86Code)
				base := s.Image.VAddrOf(x.CodeOffset())
				fmt.Fprintf(out, "; X86Code @%04X, %d bytes at 0x%08X\n", x.Offset(), len(x.Code), base)
				fmt.Fprint(out, x86.Listing(x.Code, base))
				if !verify {
					continue
				}
				instrs, derr := x86.Disassemble(x.Code)
				if derr != nil {
					fmt.Fprintf(out, "; disassembly failed: %v\n", derr)
					continue
				}
				for _, m := range x86.CrossCheck(x.Code, instrs) {
					fmt.Fprintf(out, "; mismatch %s\n", m)
					mismatches++
				}
			}
			if verify {
				fmt.Fprintf(out, "; %d mismatches against x86asm\n", mismatches)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "cross-check instruction lengths with x86asm")
	return cmd
}

func newDiffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diff FILE GOLDEN.json",
		Short: "Compare a shape's records with a golden JSON dump",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadShape(args[0])
			if s == nil {
				return err
			}
			golden, gerr := os.ReadFile(args[1])
			if gerr != nil {
				return gerr
			}
			diff, derr := sh.DiffGolden(golden, s.Records, color())
			if derr != nil {
				return derr
			}
			if diff == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "identical")
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), diff)
			return fmt.Errorf("%s differs from %s", args[0], args[1])
		},
	}
}

func newFixtureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fixture OUT",
		Short: "Write a small synthetic shape that exercises every walker feature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := shape.SampleBuilder().Build()
			if err != nil {
				return err
			}
			return os.WriteFile(args[0], data, 0o644)
		},
	}
}
