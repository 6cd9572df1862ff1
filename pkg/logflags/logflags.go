package logflags

import (
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var driver = false
var dap = false
var rpc = false
var launcher = false
var suite = false

var logOut io.WriteCloser

func makeLogger(level logrus.Level, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(level, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = textFormatterInstance
	if logOut != nil {
		logger.Logger.Out = logOut
	}
	logger.Logger.Level = level
	return &entryLogger{logger}
}

func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if flag {
		return makeLogger(logrus.DebugLevel, fields)
	}
	return makeLogger(logrus.ErrorLevel, fields)
}

// Driver returns true if the verification driver should log.
func Driver() bool {
	return driver
}

// DriverLogger returns a logger for the verification driver.
func DriverLogger() Logger {
	return makeFlaggableLogger(driver, Fields{"layer": "driver"})
}

// DAP returns true if every DAP message should be logged.
func DAP() bool {
	return dap
}

// DAPLogger returns a logger for the DAP client.
func DAPLogger() Logger {
	return makeFlaggableLogger(dap, Fields{"layer": "dap"})
}

// RPC returns true if delve JSON-RPC calls should be logged.
func RPC() bool {
	return rpc
}

// RPCLogger returns a logger for the delve JSON-RPC client.
func RPCLogger() Logger {
	return makeFlaggableLogger(rpc, Fields{"layer": "rpc"})
}

// Launcher returns true if the output of the backend process should be
// copied to the log.
func Launcher() bool {
	return launcher
}

// LauncherLogger returns a logger for the backend launcher.
func LauncherLogger() Logger {
	return makeFlaggableLogger(launcher, Fields{"layer": "launcher"})
}

// Suite returns true if suite loading should be logged.
func Suite() bool {
	return suite
}

// SuiteLogger returns a logger for the suite loaders.
func SuiteLogger() Logger {
	return makeFlaggableLogger(suite, Fields{"layer": "suite"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets logging flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "dbgcheck-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "driver"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		switch logcmd {
		case "driver":
			driver = true
		case "dap":
			dap = true
		case "rpc":
			rpc = true
		case "launcher":
			launcher = true
		case "suite":
			suite = true
		default:
			fmt.Fprintf(os.Stderr, "Warning: unknown log output value %q, run 'dbgcheck help log' for usage.\n", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}
