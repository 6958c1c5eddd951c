package notifyengine

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestNotifyEngineSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Notification Engine Escalation/Cooldown Suite")
}
