package main

import "tools.zach/dev/tallybot/internal/paths"

// DataPaths aliases [paths.DataDir] so daemon code can use the path helpers
// unqualified.
type DataPaths = paths.DataDir
