// Package keyring supplies the push-channel key mapping consumed at the start
// of every reconciliation pass. Keys are stored wrapped under the device key;
// unwrapping is the keystore facade's job.
package keyring
