package main

import (
	"fmt"
	"log"
	"os"
	"os/user"

	"github.com/spf13/pflag"

	"github.com/larsks/mkwinusb/internal/diskutil"
	"github.com/larsks/mkwinusb/internal/hdiutil"
	"github.com/larsks/mkwinusb/internal/rsync"
	"github.com/larsks/mkwinusb/internal/usbmaker"
	"github.com/larsks/mkwinusb/internal/version"
	"github.com/larsks/mkwinusb/internal/wimsplit"
)

type (
	Options struct {
		isoPath     string
		diskID      string
		volumeName  string
		splitSizeMB int
		showVersion bool
		help        bool
	}
)

var options Options

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s -i <windows.iso> [OPTIONS]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\nCreates a UEFI-bootable Windows installation USB drive from an ISO image.\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  %s -i Win11_24H2_English_x64.iso\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s -i Win11_24H2_English_x64.iso -d disk2\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s -i Win11_24H2_English_x64.iso -d disk2 -n WINUSB -s 3500\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	pflag.PrintDefaults()
}

func init() {
	// Define command line flags
	pflag.StringVarP(&options.isoPath, "iso", "i", "", "path to the Windows ISO image (required)")
	pflag.StringVarP(&options.diskID, "disk", "d", "", "target disk identifier (e.g. disk2); prompts interactively when omitted")
	pflag.StringVarP(&options.volumeName, "name", "n", "WINDOWSUSB", "volume label for the target drive")
	pflag.IntVarP(&options.splitSizeMB, "split-size", "s", 3800, "maximum size in MB of each install.swm part when splitting")
	pflag.BoolVarP(&options.showVersion, "version", "V", false, "show version information")
	pflag.BoolVarP(&options.help, "help", "h", false, "show this help message")
}

func main() {
	pflag.Parse()

	// Handle help flag
	if options.help {
		printUsage()
		os.Exit(0)
	}

	if options.showVersion {
		fmt.Println(version.GetVersion("mkwinusb"))
		os.Exit(0)
	}

	if options.isoPath == "" {
		fmt.Fprintf(os.Stderr, "Error: the -i flag (path to the Windows ISO) is required\n")
		printUsage()
		os.Exit(1)
	}

	if options.splitSizeMB <= 0 {
		fmt.Fprintf(os.Stderr, "Error: -s must be a positive number of megabytes\n")
		os.Exit(1)
	}

	currentUser, userErr := user.Current()
	if userErr != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to get current user: %v\n", userErr)
		os.Exit(1)
	}
	if currentUser.Uid != "0" {
		fmt.Fprintf(os.Stderr, "Error: This program must be run as root (erasing and remounting disks requires it)\n")
		os.Exit(1)
	}

	logger := log.New(os.Stdout, "[mkwinusb] ", log.LstdFlags)

	maker := usbmaker.NewMaker(
		usbmaker.Config{
			ISOPath:     options.isoPath,
			DiskID:      options.diskID,
			VolumeName:  options.volumeName,
			SplitSizeMB: options.splitSizeMB,
		},
		diskutil.New(logger),
		hdiutil.New(logger),
		rsync.New(logger),
		wimsplit.New(logger),
		usbmaker.NewStdinPrompter(),
		logger,
	)

	if err := maker.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
