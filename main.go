package main

import (
	"fmt"
	"io"
	"os"

	"github.com/batterymanager/batteryinfo/ios/batteryinfo"
	"github.com/batterymanager/batteryinfo/ios/diagnostics"
	"github.com/docopt/docopt-go"
	log "github.com/sirupsen/logrus"
)

const version = "local-build"

func main() {
	os.Exit(Main(os.Args[1:], os.Stdout, os.Stderr))
}

// Main runs the command line in args and returns the process exit status.
func Main(args []string, stdout io.Writer, stderr io.Writer) int {
	usage := fmt.Sprintf(`batteryinfo %s

Usage:
  batteryinfo [options]
  batteryinfo summary [--class=<class>...] [options]
  batteryinfo ioreg [--class=<class>...] [options]
  batteryinfo device [options]
  batteryinfo -h | --help
  batteryinfo --version

Options:
  -v --verbose   Enable Debug Logging.
  -t --trace     Enable Trace Logging (dump every message).
  -h --help      Show this screen.
  --udid=<udid>  UDID of the device.

The commands work as following:
	Without a command, the diagnostics relay is asked for 'All', 'GasGauge' and 'IORegistry'
	in this order and the first non-empty answer is printed as an XML plist.
	By default, the only attached device is used unless you specify a --udid=some_udid switch
	or set the udid environment variable.

   batteryinfo [options]                               Prints battery diagnostics as an XML plist.
   batteryinfo summary [--class=<class>...] [options]  Prints cycle count, capacities and health of the battery as JSON.
                                                       With --class the IORegistry entries of the given classes are summarized instead.
   batteryinfo ioreg [--class=<class>...] [options]    Prints the IORegistry entry of the first class that answers, AppleSmartBattery and AppleARMPMUCharger by default.
   batteryinfo device [options]                        Prints device name, model, OS version and charge state as JSON.
   batteryinfo -h | --help                             Prints this screen.
   batteryinfo --version                               Prints the version

  `, version)
	parser := &docopt.Parser{HelpHandler: func(err error, usage string) {
		if err != nil {
			fmt.Fprintln(stderr, usage)
			return
		}
		fmt.Fprintln(stdout, usage)
	}}
	arguments, err := parser.ParseArgs(usage, args, version)
	if err != nil {
		return 1
	}
	if arguments == nil {
		return 0
	}

	log.SetOutput(stderr)
	log.SetFormatter(&log.TextFormatter{})
	log.SetLevel(log.InfoLevel)
	traceLevelEnabled, _ := arguments.Bool("--trace")
	if traceLevelEnabled {
		log.SetLevel(log.TraceLevel)
	} else {
		verboseLoggingEnabled, _ := arguments.Bool("--verbose")
		if verboseLoggingEnabled {
			log.SetLevel(log.DebugLevel)
		}
	}
	log.Debug(arguments)

	udid, _ := arguments.String("--udid")
	opts := []batteryinfo.Option{
		batteryinfo.WithUDID(udid),
		batteryinfo.WithOutput(stdout),
		batteryinfo.WithNotices(batteryinfo.NewNoticeLogger(stderr)),
	}

	var outcome batteryinfo.Outcome
	b, _ := arguments.Bool("device")
	if b {
		outcome, err = batteryinfo.NewFetcher(batteryinfo.NewUsbmuxBackend(), opts...).RunDeviceReport()
		return exitCode(outcome, err)
	}

	b, _ = arguments.Bool("summary")
	if b {
		opts = append(opts, batteryinfo.WithRenderer(batteryinfo.SummaryRenderer{}))
		if classes, _ := arguments["--class"].([]string); len(classes) > 0 {
			opts = append(opts, batteryinfo.WithQueries(ioregQueries(classes)...))
		}
	}

	b, _ = arguments.Bool("ioreg")
	if b {
		opts = append(opts, batteryinfo.WithQueries(ioregQueries(arguments["--class"])...))
	}

	outcome, err = batteryinfo.NewFetcher(batteryinfo.NewUsbmuxBackend(), opts...).Run()
	return exitCode(outcome, err)
}

var defaultIORegistryClasses = []string{"AppleSmartBattery", "AppleARMPMUCharger"}

func ioregQueries(classArg interface{}) []diagnostics.Query {
	classes, _ := classArg.([]string)
	if len(classes) == 0 {
		classes = defaultIORegistryClasses
	}
	queries := make([]diagnostics.Query, 0, len(classes))
	for _, class := range classes {
		queries = append(queries, diagnostics.IORegistryQuery(class))
	}
	return queries
}

func exitCode(outcome batteryinfo.Outcome, err error) int {
	if err != nil {
		log.WithFields(log.Fields{"outcome": outcome.String(), "err": err}).Debug("run finished")
	}
	return outcome.ExitCode()
}
