// Package image enumerates the code images (main executable and shared
// libraries) currently mapped into this process (§3 Image, §4.4).
//
// Grounded on original_source/libmemtrack/src/dylib.rs, which walks macOS's
// dyld image list (_dyld_image_count/_dyld_get_image_name/
// _dyld_get_image_header/_dyld_get_image_vmaddr_slide). The portable
// equivalent used here is /proc/self/maps on Linux and the dyld APIs on
// Darwin; both are reachable without a third-party dependency, which is why
// this package is stdlib/cgo-only (DESIGN.md records the justification).
package image

// Image is one loaded code module, as reported by the platform's module
// enumerator. Size and Slide follow §3's Image attributes.
type Image struct {
	Path  string
	Base  uint64 // absolute load base after relocation
	Size  uint64
	Slide int64 // 0 on platforms without ASLR slide reporting
}

// List returns every currently mapped code image of the calling process, in
// the order the platform reports them. Discovered once at agent startup
// (§3 Image lifecycle: "static for the run").
func List() ([]Image, error) {
	return list()
}
