// Package ssh implements transports.Target for a remote host reached over
// SSH. Commands run in SSH sessions through the remote shell; file
// operations use SFTP.
//
// A target is usually described by a URL:
//
//	ssh://root@build-01.example.com
//	ssh://admin@10.0.0.7:2222?identity=/home/me/.ssh/id_ed25519
//	ssh://admin@10.0.0.7?jump=bastion@gw.example.com:22&known_hosts=/etc/ssh/known
//
// When the login user is not root, commands are wrapped in `sudo -n` and the
// SFTP server is started through sudo as well, so the account needs
// passwordless sudo.
package ssh
