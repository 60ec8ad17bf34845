package checkengine_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestCheckEngine(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "checkengine Suite")
}
