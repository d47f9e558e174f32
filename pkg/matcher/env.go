package matcher

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/cuemby/helmsman/pkg/offers"
	"github.com/cuemby/helmsman/pkg/spec"
)

// envSafetyLimit bounds the length of a sanitized label key or value
// admitted into a MARATHON_APP_LABEL_<KEY> variable (section 4.1.1:
// "fit the environment-safety limits").
const envSafetyLimit = 255

var unsafeEnvChars = regexp.MustCompile(`[^A-Za-z0-9_]`)

// marathonWhitelist names the variables emitted unprefixed regardless
// of envPrefix (section 4.1.1).
func isWhitelisted(name string) bool {
	return name == "MESOS_TASK_ID" || strings.HasPrefix(name, "MARATHON_APP_")
}

// buildEnv assembles the full environment contract for a single task:
// PORT0..n, PORT_<port>, PORT_<name>, PORTS, HOST, MESOS_TASK_ID,
// MARATHON_APP_* and MARATHON_APP_LABEL_*, then applies envPrefix and
// finally layers the user-supplied env on top so it always wins
// (section 4.1.1).
func buildEnv(app *spec.AppSpec, offer offers.Offer, taskID string, bindings []offers.PortBinding) map[string]string {
	gen := make(map[string]string)

	var portValues []string
	for i, b := range bindings {
		if b.HostPort == nil {
			continue
		}
		gen[fmt.Sprintf("PORT%d", i)] = strconv.Itoa(*b.HostPort)
		if i < len(app.PortDefinitions) {
			gen[fmt.Sprintf("PORT_%d", app.PortDefinitions[i].Port)] = strconv.Itoa(*b.HostPort)
		}
		if b.Name != "" {
			gen[fmt.Sprintf("PORT_%s", strings.ToUpper(b.Name))] = strconv.Itoa(*b.HostPort)
		}
		portValues = append(portValues, strconv.Itoa(*b.HostPort))
	}
	gen["PORTS"] = strings.Join(portValues, ",")
	gen["HOST"] = offer.Host

	gen["MESOS_TASK_ID"] = taskID
	gen["MARATHON_APP_ID"] = app.Path.String()
	gen["MARATHON_APP_VERSION"] = app.VersionAt.Format("2006-01-02T15:04:05.000Z")
	gen["MARATHON_APP_RESOURCE_CPUS"] = strconv.FormatFloat(app.Cpus, 'f', -1, 64)
	gen["MARATHON_APP_RESOURCE_MEM"] = strconv.FormatInt(app.Mem, 10)
	gen["MARATHON_APP_RESOURCE_DISK"] = strconv.FormatInt(app.Disk, 10)
	gen["MARATHON_APP_RESOURCE_GPUS"] = strconv.Itoa(app.Gpus)

	var labelKeys []string
	for k := range app.Labels {
		labelKeys = append(labelKeys, k)
	}
	sort.Strings(labelKeys)

	var includedKeys []string
	for _, k := range labelKeys {
		v := app.Labels[k]
		sanitizedKey := sanitizeLabelKey(k)
		if len(sanitizedKey) > envSafetyLimit {
			continue
		}
		includedKeys = append(includedKeys, sanitizedKey)
		if len(v) > envSafetyLimit {
			continue
		}
		gen[fmt.Sprintf("MARATHON_APP_LABEL_%s", sanitizedKey)] = v
	}
	gen["MARATHON_APP_LABELS"] = strings.Join(includedKeys, " ")

	out := make(map[string]string, len(gen)+len(app.Env))
	for name, value := range gen {
		if isWhitelisted(name) {
			out[name] = value
			continue
		}
		out[app.EnvPrefix+name] = value
	}
	for k, v := range app.Env {
		out[k] = v
	}
	return out
}

func sanitizeLabelKey(k string) string {
	return strings.ToUpper(unsafeEnvChars.ReplaceAllString(k, "_"))
}
