//go:build darwin

package image

/*
#include <mach-o/dyld.h>
#include <stdlib.h>
*/
import "C"
import "unsafe"

// list mirrors original_source/libmemtrack/src/dylib.rs almost exactly: it
// walks dyld's image table directly rather than approximating it from a
// pseudo-filesystem, since Darwin has no /proc.
func list() ([]Image, error) {
	count := int(C._dyld_image_count())
	images := make([]Image, 0, count)

	for i := 0; i < count; i++ {
		namePtr := C._dyld_get_image_name(C.uint32_t(i))
		var name string
		if namePtr != nil {
			name = C.GoString(namePtr)
		} else {
			name = "<unknown>"
		}

		header := C._dyld_get_image_header(C.uint32_t(i))
		slide := int64(C._dyld_get_image_vmaddr_slide(C.uint32_t(i)))

		images = append(images, Image{
			Path:  name,
			Base:  uint64(uintptr(unsafe.Pointer(header))),
			Slide: slide,
			// mach-o header size isn't the module's mapped size, and
			// nothing here reads the load commands to find it. Size is
			// left 0 exactly as the original dylib.rs does not report it
			// either; internal/symbol skips images with Size 0.
		})
	}

	return images, nil
}
