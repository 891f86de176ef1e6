/*
Package security provides the secrets ADCM shares with its runners.

Two capabilities live here: password encryption in the ansible-vault 1.1
format, and the on-disk secrets that authenticate ADCM to the status
server and to playbooks.

# Architecture

	┌──────────────────── SECRETS ─────────────────────┐
	│                                                    │
	│  data/var/vault.secret ──► Vault ──► password      │
	│          │                            fields in    │
	│          │                            ConfigLog    │
	│          └──► ansible-playbook --vault-password-file│
	│                                                    │
	│  data/var/secrets.json ──► status token (events)   │
	│                        └─► adcmuser (plugins)      │
	└────────────────────────────────────────────────────┘

# Vault Format

Encrypt produces the text ansible itself writes:

	$ANSIBLE_VAULT;1.1;AES256
	<hex(hex(salt) \n hex(hmac) \n hex(ciphertext))>, 80 columns per line

Key material is PBKDF2-SHA256 over the vault password with a random
32-byte salt and 10000 iterations, 80 bytes long:

	[ 0:32] AES-256 key
	[32:64] HMAC-SHA256 key
	[64:80] CTR initial counter

The plaintext is PKCS#7 padded to the AES block size before encryption and
the HMAC covers the ciphertext. Encrypt leaves values that already carry
the vault header untouched, so saving a config twice never double
encrypts; Decrypt passes through values without the header.

# Files

Both files are created on first start with random content and mode 0600.
Deleting vault.secret makes every stored password unreadable.
*/
package security
