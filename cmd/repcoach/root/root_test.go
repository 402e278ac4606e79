package rootcmder_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	rootcmder "github.com/papercomputeco/repcoach/cmd/repcoach/root"
)

var _ = Describe("Root Command", func() {
	It("registers every subcommand", func() {
		cmd := rootcmder.NewRootCmd()

		var names []string
		for _, sub := range cmd.Commands() {
			names = append(names, sub.Name())
		}
		Expect(names).To(ContainElements("chat", "tui", "merge", "push"))
	})

	It("passes --config through to chat", func() {
		GinkgoT().Setenv("HOME", GinkgoT().TempDir())

		auth := make(chan string, 1)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth <- r.Header.Get("Authorization")
			_, _ = io.WriteString(w, "Rest 90 seconds between sets.")
		}))
		DeferCleanup(srv.Close)

		path := filepath.Join(GinkgoT().TempDir(), "config.toml")
		body := "endpoint = \"" + srv.URL + "\"\napi_key = \"from-file\"\n"
		Expect(os.WriteFile(path, []byte(body), 0o600)).To(Succeed())

		var out bytes.Buffer
		cmd := rootcmder.NewRootCmd()
		cmd.SetOut(&out)
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"--config", path, "chat", "how long should I rest?"})

		Expect(cmd.ExecuteContext(context.Background())).To(Succeed())
		Expect(out.String()).To(Equal("Rest 90 seconds between sets.\n"))
		Expect(auth).To(Receive(Equal("Bearer from-file")))
	})

	It("reports an invalid config file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "config.toml")
		Expect(os.WriteFile(path, []byte(`unit_preference = "stones"`), 0o600)).To(Succeed())

		cmd := rootcmder.NewRootCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"--config", path, "chat", "hi"})

		Expect(cmd.ExecuteContext(context.Background())).To(MatchError(ContainSubstring("unit_preference")))
	})
})
