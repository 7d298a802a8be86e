/*
Package publish holds the repository hoster and cloud deployer contracts.

The pipeline's last two stages hand a generated codebase to a Hoster
(create a repository, push the files) and then a Deployer (deploy the
repository, report a URL and status). Both are interfaces so real
integrations can slot in per deployment.

LocalHoster and LocalDeployer are the in-process implementations used by
default: they validate inputs, keep their state in memory and return
plausible URLs, which is enough for the pipeline to exercise both stages
end to end without external accounts.
*/
package publish
