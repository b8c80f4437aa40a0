// Package keystore provides the key-unwrap facade the engine uses to recover
// push channel keys. The Facade interface mirrors a hardware-backed keystore;
// FileFacade is a file-based stand-in holding the device key on disk.
package keystore
