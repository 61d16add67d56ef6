// Package serialization writes lowered models as JSON stage graph dumps and reads
// them back.
//
// A dump lists every data buffer and every stage of a model in execution order.
// Buffer contents are not stored; constants carry their size and SHA-256 digest so
// two dumps can be compared without the weights. Dumps are a debugging aid for
// inspecting what the front end produced and are not consumed by the device.
//
// Example:
//
//	f, _ := os.Create("net.stages.json")
//	defer f.Close()
//	if err := serialization.Write(f, m); err != nil {
//	    log.Fatal(err)
//	}
package serialization
