// Ginkgo suite bootstrap for the control plane specs in
// server_test.go. Registers Gomega's fail handler and runs the suite
// through the standard Go test entrypoint.
package server_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestControlPlane(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Control Plane Suite")
}
