package nexus

import "github.com/go-logr/logr"

func resolveLogger(logger logr.Logger) logr.Logger {
	if logger.GetSink() == nil {
		return logr.Discard()
	}
	return logger
}

// componentLogger names the logger after the component it is handed to.
func componentLogger(logger logr.Logger, component string) logr.Logger {
	return resolveLogger(logger).WithName(component)
}
