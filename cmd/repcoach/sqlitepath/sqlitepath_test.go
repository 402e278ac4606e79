package sqlitepath_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/repcoach/cmd/repcoach/sqlitepath"
)

var _ = Describe("ResolveSQLitePath", func() {
	It("prefers the explicit path", func() {
		GinkgoT().Setenv(sqlitepath.EnvVar, "/tmp/from-env.sqlite")

		path, err := sqlitepath.ResolveSQLitePath("/tmp/explicit.sqlite")
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(Equal("/tmp/explicit.sqlite"))
	})

	It("falls back to the environment", func() {
		GinkgoT().Setenv(sqlitepath.EnvVar, "/tmp/from-env.sqlite")

		path, err := sqlitepath.ResolveSQLitePath("")
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(Equal("/tmp/from-env.sqlite"))
	})

	It("defaults to the home directory and creates it", func() {
		home := GinkgoT().TempDir()
		GinkgoT().Setenv("HOME", home)
		GinkgoT().Setenv(sqlitepath.EnvVar, "")

		path, err := sqlitepath.ResolveSQLitePath("")
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(Equal(filepath.Join(home, ".repcoach", "repcoach.sqlite")))

		info, err := os.Stat(filepath.Dir(path))
		Expect(err).NotTo(HaveOccurred())
		Expect(info.IsDir()).To(BeTrue())
	})
})
