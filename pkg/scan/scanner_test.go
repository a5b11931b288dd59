package scan_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/H4cking2theGate/remote-method-guesser/internal/jrmptest"
	"github.com/H4cking2theGate/remote-method-guesser/pkg/rmi"
	"github.com/H4cking2theGate/remote-method-guesser/pkg/scan"
)

func shortOptions() rmi.Options {
	return rmi.Options{ConnectTimeout: 2 * time.Second, ReadTimeout: 2 * time.Second}
}

// stubRegistry mimics an outdated, unrestricted registry with a JMX connector
// bound, a filtered distributed GC and no activator.
func stubRegistry(frame *rmi.CallFrame) []byte {
	switch frame.ObjID.Number {
	case rmi.RegistryNumber:
		switch frame.Operation {
		case 1: // list
			return jrmptest.NormalReply(jrmptest.EncodeStringArray([]string{"jmxrmi", "app"}))
		case 2: // lookup
			return jrmptest.ExceptionReply("java.rmi.ServerException",
				"error unmarshalling arguments; nested exception is: java.lang.ClassNotFoundException: de.qtc.Example")
		case 4: // unbind
			return jrmptest.ExceptionReply("java.rmi.NotBoundException", "scan-probe-3f7a1c")
		}
	case rmi.DGCNumber:
		return jrmptest.ExceptionReply("java.rmi.ServerException",
			"error unmarshalling arguments; nested exception is: java.io.InvalidClassException: filter status: REJECTED")
	case rmi.ActivatorNumber:
		return jrmptest.ExceptionReply("java.rmi.NoSuchObjectException", "no such object in table")
	}
	return jrmptest.ExceptionReply("java.rmi.NoSuchObjectException", "no such object in table")
}

func TestScanMatrixAgainstStub(t *testing.T) {
	srv := jrmptest.Start(t, stubRegistry)

	matrix, err := scan.Run(context.Background(), scan.Config{
		Host:    srv.Endpoint.Host,
		Ports:   []int{srv.Endpoint.Port},
		Options: shortOptions(),
	})
	require.NoError(t, err)
	require.Len(t, matrix.Rows, 1)

	verdicts := map[scan.Action]scan.Verdict{}
	for _, cell := range matrix.Rows[0].Cells {
		verdicts[cell.Action] = cell.Verdict
	}
	assert.Equal(t, scan.VerdictVulnerable, verdicts[scan.ActionFingerprint])
	assert.Equal(t, scan.VerdictVulnerable, verdicts[scan.ActionJMX])
	assert.Equal(t, scan.VerdictVulnerable, verdicts[scan.ActionStringMarshalling])
	assert.Equal(t, scan.VerdictVulnerable, verdicts[scan.ActionLocalhostBypass])
	assert.Equal(t, scan.VerdictNotVulnerable, verdicts[scan.ActionFilter])
	assert.Equal(t, scan.VerdictInconclusive, verdicts[scan.ActionCodebase])
	assert.Equal(t, scan.VerdictNotVulnerable, verdicts[scan.ActionActivator])
	assert.Equal(t, scan.VerdictVulnerable, verdicts[scan.ActionSSRF])
}

// In a set of 10 ports with 3 unreachable, the run completes with exactly 10
// rows, the unreachable ones errored instead of reported safe.
func TestPartialFailureContainment(t *testing.T) {
	var ports []int
	for i := 0; i < 7; i++ {
		ports = append(ports, jrmptest.Start(t, stubRegistry).Endpoint.Port)
	}
	dead := map[int]bool{}
	for i := 0; i < 3; i++ {
		p := jrmptest.ClosedPort(t)
		ports = append(ports, p)
		dead[p] = true
	}

	matrix, err := scan.Run(context.Background(), scan.Config{
		Host:    "127.0.0.1",
		Ports:   ports,
		Actions: []scan.Action{scan.ActionFingerprint, scan.ActionLocalhostBypass},
		Threads: 4,
		Options: shortOptions(),
	})
	require.NoError(t, err)
	require.Len(t, matrix.Rows, 10)

	for i, row := range matrix.Rows {
		assert.Equal(t, ports[i], row.Port, "row order follows config order")
		for _, cell := range row.Cells {
			if dead[row.Port] {
				assert.Equal(t, scan.VerdictError, cell.Verdict, "port %d action %s", row.Port, cell.Action)
			} else {
				assert.Equal(t, scan.VerdictVulnerable, cell.Verdict, "port %d action %s", row.Port, cell.Action)
			}
		}
	}
}

func TestScanIdempotence(t *testing.T) {
	srv := jrmptest.Start(t, stubRegistry)
	cfg := scan.Config{
		Host:    srv.Endpoint.Host,
		Ports:   []int{srv.Endpoint.Port},
		Options: shortOptions(),
	}

	first, err := scan.Run(context.Background(), cfg)
	require.NoError(t, err)
	second, err := scan.Run(context.Background(), cfg)
	require.NoError(t, err)

	firstCells := first.Flatten()
	secondCells := second.Flatten()
	require.Equal(t, len(firstCells), len(secondCells))
	for i := range firstCells {
		assert.Equal(t, firstCells[i].Action, secondCells[i].Action)
		assert.Equal(t, firstCells[i].Verdict, secondCells[i].Verdict)
	}
}

// Selecting a subset of probes must not change any probe's verdict.
func TestProbeIndependence(t *testing.T) {
	srv := jrmptest.Start(t, stubRegistry)

	full, err := scan.Run(context.Background(), scan.Config{
		Host:    srv.Endpoint.Host,
		Ports:   []int{srv.Endpoint.Port},
		Options: shortOptions(),
	})
	require.NoError(t, err)

	solo, err := scan.Run(context.Background(), scan.Config{
		Host:    srv.Endpoint.Host,
		Ports:   []int{srv.Endpoint.Port},
		Actions: []scan.Action{scan.ActionFilter},
		Options: shortOptions(),
	})
	require.NoError(t, err)

	var fullFilter scan.Verdict
	for _, cell := range full.Rows[0].Cells {
		if cell.Action == scan.ActionFilter {
			fullFilter = cell.Verdict
		}
	}
	require.Len(t, solo.Rows[0].Cells, 1)
	assert.Equal(t, fullFilter, solo.Rows[0].Cells[0].Verdict)
}

func TestScanPoolSizes(t *testing.T) {
	srv := jrmptest.Start(t, stubRegistry)
	ports := []int{srv.Endpoint.Port, jrmptest.ClosedPort(t), srv.Endpoint.Port}

	for threads := 1; threads <= 4; threads++ {
		t.Run(fmt.Sprintf("threads=%d", threads), func(t *testing.T) {
			matrix, err := scan.Run(context.Background(), scan.Config{
				Host:    "127.0.0.1",
				Ports:   ports,
				Actions: []scan.Action{scan.ActionFingerprint},
				Threads: threads,
				Options: shortOptions(),
			})
			require.NoError(t, err)
			require.Len(t, matrix.Rows, 3)
			assert.Equal(t, scan.VerdictVulnerable, matrix.Rows[0].Cells[0].Verdict)
			assert.Equal(t, scan.VerdictError, matrix.Rows[1].Cells[0].Verdict)
			assert.Equal(t, scan.VerdictVulnerable, matrix.Rows[2].Cells[0].Verdict)
		})
	}
}

func TestParseActions(t *testing.T) {
	actions, err := scan.ParseActions(nil)
	require.NoError(t, err)
	assert.Equal(t, scan.AllActions(), actions)

	actions, err = scan.ParseActions([]string{"all"})
	require.NoError(t, err)
	assert.Equal(t, scan.AllActions(), actions)

	actions, err = scan.ParseActions([]string{"filter,jmx", "fingerprint"})
	require.NoError(t, err)
	assert.Equal(t, []scan.Action{scan.ActionFingerprint, scan.ActionJMX, scan.ActionFilter}, actions)

	_, err = scan.ParseActions([]string{"no-such-probe"})
	assert.Error(t, err)
}

func TestParsePorts(t *testing.T) {
	ports, err := scan.ParsePorts([]string{"1090-1093,9010", "1091"})
	require.NoError(t, err)
	assert.Equal(t, []int{1090, 1091, 1092, 1093, 9010}, ports)

	for _, bad := range []string{"0", "70000", "1099-1090", "abc", "1-2-3"} {
		_, err := scan.ParsePorts([]string{bad})
		assert.Error(t, err, bad)
	}
}
