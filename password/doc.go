// Package password provides the argon2id credential hasher.
package password
