package manifest

// TestCase is one test page moving through the upload/capture pipeline.
// The capture coordinator fills Screenshots in place as per-browser results
// complete; FromTestCases folds the finished cases into a Manifest.
type TestCase struct {
	// Path is the page's relative path, used as the manifest key.
	Path string `json:"path"`

	// PublicURL is where the uploaded page is reachable for capture.
	PublicURL string `json:"publicUrl"`

	// Screenshots maps browser key to uploaded screenshot location.
	Screenshots map[string]string `json:"screenshots"`
}

// AddScreenshot records a captured screenshot location under a browser key.
func (tc *TestCase) AddScreenshot(browser, location string) {
	if tc.Screenshots == nil {
		tc.Screenshots = make(map[string]string)
	}
	tc.Screenshots[browser] = location
}

// FromTestCases assembles the run manifest from completed test cases.
func FromTestCases(cases []*TestCase) Manifest {
	m := make(Manifest, len(cases))
	for _, tc := range cases {
		shots := make(map[string]string, len(tc.Screenshots))
		for browser, loc := range tc.Screenshots {
			shots[browser] = loc
		}
		m[tc.Path] = PageEntry{PublicURL: tc.PublicURL, Screenshots: shots}
	}
	return m
}
