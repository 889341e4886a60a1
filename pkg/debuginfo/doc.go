// Package debuginfo indexes the DWARF debug information of a native binary.
//
// An Index is built once per binary image, normally in the background through
// Spawn, and answers the queries a debugger front end needs to turn
// human-level targets into machine addresses:
//   - function lookup by namespace glob or source file
//   - global variable lookup with type classification and static address
//   - lazily resolved struct layouts for pointer-typed values
//   - line table queries (file:line to address, address to line, the next
//     statement inside a function)
//   - parameters and locals of a function, with decoded locations
//   - direct call targets of a source line, for step-into
//
// All addresses are file addresses. Consumers add the load-time slide of the
// image (runtime load address minus ImageBase) exactly once.
//
// ELF and Mach-O binaries are supported, including fat Mach-O archives,
// dSYM bundles and ELF detached debug files found through the build id or
// .gnu_debuglink. Only static, register and frame-relative locations are
// decoded; every other location expression reports ErrOptimizedOut.
package debuginfo
