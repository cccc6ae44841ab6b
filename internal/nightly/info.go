package nightly

import (
	"fmt"
	"strings"

	"github.com/clean-dependency-project/depbox/internal/ci"
)

// shortSHALength is the number of commit hash characters shown.
const shortSHALength = 7

// RunMarkdown describes a run as Markdown: the head commit with its
// author and first message line, and a link to the run.
func RunMarkdown(ref ci.Ref, run *ci.Run) string {
	sha := run.Commit.SHA
	short := sha
	if len(short) > shortSHALength {
		short = short[:shortSHALength]
	}
	subject, _, _ := strings.Cut(run.Commit.Message, "\n")
	commitURL := fmt.Sprintf("https://github.com/%s/%s/commit/%s", ref.Org, ref.Repo, sha)

	return fmt.Sprintf("Latest commit: [%s](%s) by %s: *%s*.\n\nBased on latest successful run: [#%d](%s).",
		short, commitURL, run.Commit.Author, subject, run.Number, run.HTMLURL)
}
